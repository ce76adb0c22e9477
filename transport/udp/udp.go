// Package udp implements the unreliable control plane: one JSON message per
// datagram, handled concurrently by a bounded number of workers.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/sempool"
	"github.com/textileio/auctionhouse/transport"
	golog "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

var log = golog.Logger("transport/udp")

// Handler processes a request received from the given address and returns
// the reply to send back, or nil.
type Handler func(ctx context.Context, from *net.UDPAddr, msg message.Message) message.Message

// Server reads control messages from a UDP socket and writes replies and
// notifications on the same socket.
type Server struct {
	conn *net.UDPConn
	sem  *sempool.Semaphore

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	metrics *otelMetricsCollector
}

var _ transport.Unreliable = (*Server)(nil)

// Listen binds addr and returns a Server that handles at most workers
// requests at a time.
func Listen(addr string, workers int) (*Server, error) {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %v", addr, err)
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %v", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		conn:   conn,
		sem:    sempool.NewSemaphore(workers),
		ctx:    ctx,
		cancel: cancel,
	}
	s.initMetrics(metric.Must(global.Meter("transport/udp")))
	log.Infof("control plane listening on %s", conn.LocalAddr())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve starts handling inbound datagrams with h in the background.
func (s *Server) Serve(h Handler) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(h)
	}()
}

func (s *Server) readLoop(h Handler) {
	buf := make([]byte, message.MaxSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Errorf("reading datagram: %v", err)
			continue
		}
		msg, err := message.Decode(buf[:n])
		if err != nil {
			log.Warnf("dropping datagram from %s: %v", from, err)
			s.metrics.onDrop(s.ctx)
			continue
		}
		if err := s.sem.AcquireContext(s.ctx); err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release()

			start := time.Now()
			res := h(s.ctx, from, msg)
			if res != nil {
				if err := s.write(from, res); err != nil {
					log.Debugf("replying %s to %s: %v", res.Kind(), from, err)
				}
			}
			s.metrics.onHandle(s.ctx, msg.Kind(), time.Since(start))
		}()
	}
}

// Send writes msg to the participant's control address.
func (s *Server) Send(ctx context.Context, to auction.Address, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uaddr, err := net.ResolveUDPAddr("udp", to.Control())
	if err != nil {
		return fmt.Errorf("resolving %s: %v", to.Control(), err)
	}
	err = s.write(uaddr, msg)
	s.metrics.onSend(ctx, msg.Kind(), err)
	return err
}

func (s *Server) write(to *net.UDPAddr, msg message.Message) error {
	b, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %v", msg.Kind(), err)
	}
	if _, err := s.conn.WriteToUDP(b, to); err != nil {
		return fmt.Errorf("writing to %s: %v", to, err)
	}
	return nil
}

// Close stops reading and waits for in-flight handlers.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
		s.wg.Wait()
		log.Info("control plane was shutdown")
	})
	return err
}
