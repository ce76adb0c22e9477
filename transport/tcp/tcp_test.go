package tcp

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	golog "github.com/textileio/go-log/v2"
)

func init() {
	golog.SetAllLoggers(golog.LevelDebug)
}

func TestCourier_Deliver(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		line, _ := bufio.NewReader(conn).ReadBytes('\n')
		got <- line
	}()

	c := New("127.0.0.1", "127.0.0.1")
	port := ln.Addr().(*net.TCPAddr).Port
	to := auction.Address{Host: "127.0.0.1", UDPPort: port, TCPPort: port}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Deliver(ctx, to, &message.Winner{RQ: "a1", ItemName: "Vase", FinalPrice: 15, SellerName: "Sam"}))

	select {
	case line := <-got:
		msg, err := message.Decode(line)
		require.NoError(t, err)
		w, ok := msg.(*message.Winner)
		require.True(t, ok)
		assert.Equal(t, 15.0, w.FinalPrice)
		assert.Equal(t, "Sam", w.SellerName)
	case <-time.After(5 * time.Second):
		t.Fatal("nothing delivered")
	}
}

func TestCourier_DeliverUnreachable(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := New("127.0.0.1", "127.0.0.1")
	to := auction.Address{Host: "127.0.0.1", UDPPort: port, TCPPort: port}
	require.Error(t, c.Deliver(context.Background(), to, &message.NoSale{RQ: "a1", ItemName: "Vase"}))
}

func TestRendezvous(t *testing.T) {
	t.Parallel()
	c := New("127.0.0.1", "localhost")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rv, err := c.Listen(ctx)
	require.NoError(t, err)

	host, port, err := net.SplitHostPort(rv.Addr())
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	target := net.JoinHostPort("127.0.0.1", port)

	// Unexpected messages and garbage are dropped.
	send(t, target, `{"type":"CANCEL","rq#":"t1","reason":"nope"}`)
	send(t, target, `garbage`)
	send(t, target, `{"type":"INFORM_Res","rq#":"t1","name":"Bella","cc#":"4111111111111111","exp_date":"09/27","address":"2 Buyer Ave"}`)

	select {
	case res := <-rv.Responses():
		assert.Equal(t, message.CorrelationID("t1"), res.RQ)
		assert.Equal(t, "Bella", res.Name)
		assert.Equal(t, "4111111111111111", res.CardNumber)
		assert.Equal(t, "2 Buyer Ave", res.Address)
	case <-time.After(5 * time.Second):
		t.Fatal("no response received")
	}

	require.NoError(t, rv.Close())
	require.NoError(t, rv.Close())
	_, ok := <-rv.Responses()
	assert.False(t, ok)
	_, err = net.DialTimeout("tcp", target, time.Second)
	require.Error(t, err)
}

func TestRendezvous_ClosedByContext(t *testing.T) {
	t.Parallel()
	c := New("127.0.0.1", "127.0.0.1")
	ctx, cancel := context.WithCancel(context.Background())
	rv, err := c.Listen(ctx)
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(rv.Addr())
	require.NoError(t, err)
	_, err = strconv.Atoi(port)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-rv.Responses():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("rendezvous not closed")
	}
}

func send(t *testing.T, addr, payload string) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_, err = conn.Write([]byte(payload + "\n"))
	require.NoError(t, err)
}
