// Package tcp implements the reliable finalization plane: each message is a
// single newline-terminated JSON object sent over its own TCP connection.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/transport"
	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("transport/tcp")

// readTimeout bounds how long a rendezvous waits for a connected peer to
// send its message.
const readTimeout = 10 * time.Second

// Courier delivers reliable messages and opens rendezvous listeners.
type Courier struct {
	listenHost    string
	advertiseHost string
}

var _ transport.Reliable = (*Courier)(nil)

// New returns a Courier whose rendezvous listeners bind listenHost and are
// advertised to participants as advertiseHost.
func New(listenHost, advertiseHost string) *Courier {
	return &Courier{listenHost: listenHost, advertiseHost: advertiseHost}
}

// Deliver dials the participant's data address and writes msg.
func (c *Courier) Deliver(ctx context.Context, to auction.Address, msg message.Message) error {
	b, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %v", msg.Kind(), err)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", to.Data())
	if err != nil {
		return fmt.Errorf("dialing %s: %v", to.Data(), err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debugf("closing connection to %s: %v", to.Data(), err)
		}
	}()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("setting write deadline: %v", err)
		}
	}
	if _, err := conn.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("writing to %s: %v", to.Data(), err)
	}
	return nil
}

// Listen opens a rendezvous on a fresh port. It's closed when ctx is done or
// Close is called.
func (c *Courier) Listen(ctx context.Context) (transport.Rendezvous, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(c.listenHost, "0"))
	if err != nil {
		return nil, fmt.Errorf("opening rendezvous listener: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	r := &rendezvous{
		ln:   ln,
		addr: net.JoinHostPort(c.advertiseHost, strconv.Itoa(port)),
		ch:   make(chan *message.InformResponse),
		done: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			if err := r.Close(); err != nil {
				log.Errorf("closing rendezvous %s: %v", r.addr, err)
			}
		case <-r.done:
		}
	}()
	log.Debugf("rendezvous listening on %s", ln.Addr())
	return r, nil
}

type rendezvous struct {
	ln   net.Listener
	addr string
	ch   chan *message.InformResponse

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func (r *rendezvous) Addr() string {
	return r.addr
}

func (r *rendezvous) Responses() <-chan *message.InformResponse {
	return r.ch
}

// Close stops accepting connections, waits for in-flight readers and closes
// the responses channel.
func (r *rendezvous) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		if err := r.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			r.closeErr = err
		}
		r.wg.Wait()
		close(r.ch)
	})
	return r.closeErr
}

func (r *rendezvous) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Errorf("accepting on %s: %v", r.addr, err)
			continue
		}
		r.wg.Add(1)
		go r.handle(conn)
	}
}

func (r *rendezvous) handle(conn net.Conn) {
	defer r.wg.Done()
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debugf("closing connection from %s: %v", conn.RemoteAddr(), err)
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		log.Errorf("setting read deadline: %v", err)
		return
	}
	line, err := bufio.NewReader(io.LimitReader(conn, message.MaxSize)).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		log.Warnf("reading from %s: %v", conn.RemoteAddr(), err)
		return
	}
	msg, err := message.Decode(line)
	if err != nil {
		log.Warnf("dropping message from %s: %v", conn.RemoteAddr(), err)
		return
	}
	res, ok := msg.(*message.InformResponse)
	if !ok {
		log.Warnf("dropping unexpected %s from %s", msg.Kind(), conn.RemoteAddr())
		return
	}
	select {
	case r.ch <- res:
	case <-r.done:
	}
}
