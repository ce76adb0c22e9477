package service

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/house"
	"github.com/textileio/auctionhouse/logging"
	"github.com/textileio/auctionhouse/message"
	golog "github.com/textileio/go-log/v2"
)

func init() {
	if err := logging.SetLogLevels(map[string]golog.LogLevel{
		"auctionhouse":         golog.LevelDebug,
		"auctionhouse/service": golog.LevelDebug,
		"transport/udp":        golog.LevelDebug,
		"transport/tcp":        golog.LevelDebug,
	}); err != nil {
		panic(err)
	}
}

const waitFor = 5 * time.Second

func TestService_Directory(t *testing.T) {
	t.Parallel()
	s := newService(t)
	alice := newClient(t, s)

	res := alice.request(t, `{"type":"REGISTER","rq#":1,"name":"Alice","role":"Buyer","udp_port":%d,"tcp_port":%d}`)
	reg, ok := res.(*message.Registered)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, message.CorrelationID("1"), reg.RQ)
	assert.NotEmpty(t, reg.ClientID)

	res = alice.request(t, `{"type":"REGISTER","rq#":"2","name":"alice","role":"Seller","udp_port":%d,"tcp_port":%d}`)
	denied, ok := res.(*message.RegisterDenied)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, message.CorrelationID("2"), denied.RQ)
	assert.Contains(t, denied.Reason, "name already in use")

	res = alice.request(t, `{"type":"SHOW-CLIENTS","rq#":3}`)
	list, ok := res.(*message.ClientList)
	require.True(t, ok, "got %T", res)
	require.Len(t, list.Clients, 1)
	assert.Equal(t, "Alice", list.Clients[0].Name)
	assert.Equal(t, "127.0.0.1", list.Clients[0].IP)
	assert.Equal(t, alice.udpPort(), list.Clients[0].UDPPort)

	res = alice.request(t, `{"type":"DE-REGISTER","rq#":4,"name":"Alice"}`)
	_, ok = res.(*message.Deregistered)
	require.True(t, ok, "got %T", res)
	res = alice.request(t, `{"type":"DE-REGISTER","rq#":5,"name":"Alice"}`)
	failed, ok := res.(*message.DeregisterFailed)
	require.True(t, ok, "got %T", res)
	assert.Contains(t, failed.Reason, "not registered")
	assert.Empty(t, s.Participants())
}

func TestService_AuctionEndToEnd(t *testing.T) {
	t.Parallel()
	s := newService(t)
	seller := newClient(t, s)
	buyer := newClient(t, s)

	seller.register(t, "Sam", "Seller")
	buyer.register(t, "Bella", "Buyer")

	res := buyer.request(t, `{"type":"SUBSCRIBE","rq#":2,"name":"Bella","item_name":"Vase"}`)
	_, ok := res.(*message.Subscribed)
	require.True(t, ok, "got %T", res)

	res = seller.request(t, `{"type":"LIST_ITEM","rq#":2,"name":"Sam","item_name":"Vase",`+
		`"item_description":"blue","start_price":10.0,"duration":4}`)
	listed, ok := res.(*message.ItemListed)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, "Vase", listed.ItemName)

	ann := buyer.expectUDP(t, message.TypeAuctionAnnounce).(*message.AuctionAnnounce)
	assert.Equal(t, listed.RQ, ann.RQ)
	assert.Equal(t, 10.0, ann.CurrentPrice)
	assert.Equal(t, 4, ann.TimeLeft)

	res = buyer.request(t, `{"type":"BID","rq#":"stale","item_name":"Vase","bid_amount":15.0,"bidder_name":"Bella"}`)
	rejected, ok := res.(*message.BidRejected)
	require.True(t, ok, "got %T", res)
	assert.Contains(t, rejected.Reason, "correlation id")

	bid := `{"type":"BID","rq#":"` + string(ann.RQ) + `","item_name":"Vase","bid_amount":15.0,"bidder_name":"Bella"}`
	res = buyer.request(t, bid)
	accepted, ok := res.(*message.BidAccepted)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, 15.0, accepted.BidAmount)

	update := seller.expectUDP(t, message.TypeBidUpdate).(*message.BidUpdate)
	assert.Equal(t, 15.0, update.HighestBid)
	assert.Equal(t, "Bella", update.BidderName)

	winner := buyer.expectTCP(t, message.TypeWinner).(*message.Winner)
	assert.Equal(t, 15.0, winner.FinalPrice)
	assert.Equal(t, "Sam", winner.SellerName)
	sold := seller.expectTCP(t, message.TypeSold).(*message.Sold)
	assert.Equal(t, 15.0, sold.FinalPrice)
	assert.Equal(t, "Bella", sold.BuyerName)

	breq := buyer.expectTCP(t, message.TypeInformRequest).(*message.InformRequest)
	sreq := seller.expectTCP(t, message.TypeInformRequest).(*message.InformRequest)
	require.Equal(t, breq.RQ, sreq.RQ)
	sendTCP(t, sreq.Rendezvous, `{"type":"INFORM_Res","rq#":"`+string(sreq.RQ)+`","name":"Sam","address":"1 Seller Rd"}`)
	sendTCP(t, breq.Rendezvous, `{"type":"INFORM_Res","rq#":"`+string(breq.RQ)+`","name":"Bella",`+
		`"cc#":"4111111111111111","exp_date":"09/27","address":"2 Buyer Ave"}`)

	ship := seller.expectTCP(t, message.TypeShippingInfo).(*message.ShippingInfo)
	assert.Equal(t, "Bella", ship.BuyerName)
	assert.Equal(t, "2 Buyer Ave", ship.Address)
	assert.Equal(t, 15.0, ship.FinalPrice)

	require.Eventually(t, func() bool {
		txs := s.Transactions()
		return len(txs) == 1 && txs[0].Status == auction.StatusCompleted
	}, waitFor, 10*time.Millisecond)
}

func TestService_Negotiation(t *testing.T) {
	t.Parallel()
	s := newService(t)
	seller := newClient(t, s)
	buyer := newClient(t, s)
	seller.register(t, "Sam", "Seller")
	buyer.register(t, "Bella", "Buyer")

	res := seller.request(t, `{"type":"LIST_ITEM","rq#":2,"name":"Sam","item_name":"Lamp",`+
		`"item_description":"brass","start_price":8,"duration":10}`)
	_, ok := res.(*message.ItemListed)
	require.True(t, ok, "got %T", res)
	res = buyer.request(t, `{"type":"SUBSCRIBE","rq#":2,"name":"Bella","item_name":"Lamp"}`)
	_, ok = res.(*message.Subscribed)
	require.True(t, ok, "got %T", res)

	req := seller.expectUDP(t, message.TypeNegotiateRequest).(*message.NegotiateRequest)
	assert.Equal(t, 8.0, req.CurrentPrice)

	res = buyer.request(t, `{"type":"ACCEPT","rq#":"`+string(req.RQ)+`","name":"Bella","item_name":"Lamp","new_price":1}`)
	denied, ok := res.(*message.NegotiationDenied)
	require.True(t, ok, "got %T", res)
	assert.Contains(t, denied.Reason, "not allowed")

	res = seller.request(t, `{"type":"ACCEPT","rq#":`+string(req.RQ)+`,"item_name":"Lamp","new_price":6}`)
	_, ok = res.(*message.Accepted)
	require.True(t, ok, "got %T", res)

	adj := buyer.expectUDP(t, message.TypePriceAdjustment).(*message.PriceAdjustment)
	assert.Equal(t, 6.0, adj.NewPrice)
	it, err := s.Item("Lamp")
	require.NoError(t, err)
	assert.Equal(t, 6.0, it.CurrentPrice)
}

func TestService_SenderFromAddress(t *testing.T) {
	t.Parallel()
	s := newService(t)
	seller := newClient(t, s)
	buyer := newClient(t, s)
	seller.register(t, "Sam", "Seller")
	buyer.register(t, "Bella", "Buyer")

	res := seller.request(t, `{"type":"LIST_ITEM","rq#":2,"name":"Sam","item_name":"Vase",`+
		`"item_description":"blue","start_price":10,"duration":40}`)
	listed, ok := res.(*message.ItemListed)
	require.True(t, ok, "got %T", res)

	res = buyer.request(t, `{"type":"SUBSCRIBE","rq#":3,"item_name":"Vase"}`)
	sub, ok := res.(*message.Subscribed)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, message.CorrelationID("3"), sub.RQ)
	ann := buyer.expectUDP(t, message.TypeAuctionAnnounce).(*message.AuctionAnnounce)
	assert.Equal(t, listed.RQ, ann.RQ)

	// Announcement ids are decimal and can be echoed as JSON numbers.
	res = buyer.request(t, `{"type":"BID","rq#":`+string(ann.RQ)+`,"item_name":"Vase","bid_amount":12,"bidder_name":"Bella"}`)
	_, ok = res.(*message.BidAccepted)
	require.True(t, ok, "got %T", res)

	res = buyer.request(t, `{"type":"SUBSCRIBE","rq#":4,"name":"Sam","item_name":"Vase"}`)
	denied, ok := res.(*message.SubscriptionDenied)
	require.True(t, ok, "got %T", res)
	assert.Contains(t, denied.Reason, "does not match")

	stranger := newClient(t, s)
	res = stranger.request(t, `{"type":"SUBSCRIBE","rq#":5,"item_name":"Vase"}`)
	denied, ok = res.(*message.SubscriptionDenied)
	require.True(t, ok, "got %T", res)
	assert.Contains(t, denied.Reason, "not registered")

	res = buyer.request(t, `{"type":"DE-SUBSCRIBE","rq#":6,"item_name":"Vase"}`)
	_, ok = res.(*message.Unsubscribed)
	require.True(t, ok, "got %T", res)
}

func newService(t *testing.T) *Service {
	hc := house.DefaultConfig()
	hc.Tick = 50 * time.Millisecond
	hc.FinalizeTimeout = 5 * time.Second
	hc.DeclineRate = 0
	s, err := New(Config{
		ControlAddr:    "127.0.0.1:0",
		RendezvousHost: "127.0.0.1",
		AdvertiseHost:  "127.0.0.1",
		Workers:        8,
		House:          hc,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

// client is a participant with a UDP socket and a TCP listener.
type client struct {
	udp    *net.UDPConn
	tcp    net.Listener
	server *net.UDPAddr
	inbox  chan message.Message
}

func newClient(t *testing.T, s *Service) *client {
	u, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := &client{
		udp:    u,
		tcp:    l,
		server: s.ControlAddr().(*net.UDPAddr),
		inbox:  make(chan message.Message, 32),
	}
	go c.accept()
	t.Cleanup(func() {
		_ = u.Close()
		_ = l.Close()
	})
	return c
}

func (c *client) udpPort() int {
	return c.udp.LocalAddr().(*net.UDPAddr).Port
}

func (c *client) tcpPort() int {
	return c.tcp.Addr().(*net.TCPAddr).Port
}

func (c *client) accept() {
	for {
		conn, err := c.tcp.Accept()
		if err != nil {
			return
		}
		line, _ := bufio.NewReader(conn).ReadBytes('\n')
		_ = conn.Close()
		if msg, err := message.Decode(line); err == nil {
			c.inbox <- msg
		}
	}
}

func (c *client) register(t *testing.T, name, role string) {
	res := c.request(t, `{"type":"REGISTER","rq#":1,"name":"`+name+`","role":"`+role+`","udp_port":%d,"tcp_port":%d}`)
	_, ok := res.(*message.Registered)
	require.True(t, ok, "got %T", res)
}

// request sends payload, filling in the client's ports when it asks for
// them, and waits for the reply.
func (c *client) request(t *testing.T, payload string) message.Message {
	if strings.Count(payload, "%d") == 2 {
		payload = fmt.Sprintf(payload, c.udpPort(), c.tcpPort())
	}
	_, err := c.udp.WriteToUDP([]byte(payload), c.server)
	require.NoError(t, err)
	return c.nextReply(t)
}

// nextReply returns the next datagram that is not a notification.
func (c *client) nextReply(t *testing.T) message.Message {
	for {
		msg := c.readUDP(t)
		switch msg.Kind() {
		case message.TypeAuctionAnnounce, message.TypeBidUpdate,
			message.TypeNegotiateRequest, message.TypePriceAdjustment:
			continue
		}
		return msg
	}
}

func (c *client) expectUDP(t *testing.T, kind message.Type) message.Message {
	for {
		msg := c.readUDP(t)
		if msg.Kind() == kind {
			return msg
		}
	}
}

func (c *client) readUDP(t *testing.T) message.Message {
	require.NoError(t, c.udp.SetReadDeadline(time.Now().Add(waitFor)))
	buf := make([]byte, message.MaxSize)
	n, _, err := c.udp.ReadFromUDP(buf)
	require.NoError(t, err)
	msg, err := message.Decode(buf[:n])
	require.NoError(t, err)
	return msg
}

func (c *client) expectTCP(t *testing.T, kind message.Type) message.Message {
	timeout := time.After(waitFor)
	for {
		select {
		case msg := <-c.inbox:
			if msg.Kind() == kind {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %s received", kind)
			return nil
		}
	}
}

func sendTCP(t *testing.T, addr, payload string) {
	conn, err := net.DialTimeout("tcp", addr, waitFor)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_, err = conn.Write([]byte(payload + "\n"))
	require.NoError(t, err)
}
