package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/house"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/transport/tcp"
	"github.com/textileio/auctionhouse/transport/udp"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("auctionhouse/service")

// Config defines params for Service configuration.
type Config struct {
	// ControlAddr is the UDP address of the control plane.
	ControlAddr string
	// RendezvousHost is the host rendezvous listeners bind.
	RendezvousHost string
	// AdvertiseHost is the host participants are told to reach rendezvous on.
	AdvertiseHost string
	// Workers bounds concurrently handled requests.
	Workers int
	House   house.Config
}

// Validate ensures Config is valid.
func (c *Config) Validate() error {
	if c.ControlAddr == "" {
		return errors.New("control address is empty")
	}
	if c.AdvertiseHost == "" {
		return errors.New("advertise host is empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be greater than zero")
	}
	return nil
}

// Service is the auction server. It answers control requests and drives the
// auction house.
type Service struct {
	house     *house.House
	control   *udp.Server
	finalizer *finalizer.Finalizer
}

// New returns a new Service.
func New(conf Config) (*Service, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %v", err)
	}

	fin := finalizer.NewFinalizer()
	control, err := udp.Listen(conf.ControlAddr, conf.Workers)
	if err != nil {
		return nil, fmt.Errorf("opening control plane: %v", err)
	}
	h, err := house.New(conf.House, control, tcp.New(conf.RendezvousHost, conf.AdvertiseHost))
	if err != nil {
		fin.Add(control)
		return nil, fin.Cleanupf("creating auction house: %v", err)
	}
	// Closed in reverse: stop taking requests, then stop the auctions.
	fin.Add(h, control)

	s := &Service{
		house:     h,
		control:   control,
		finalizer: fin,
	}
	control.Serve(s.handle)

	log.Info("service started")
	return s, nil
}

// Close the service.
func (s *Service) Close() error {
	log.Info("service was shutdown")
	return s.finalizer.Cleanup(nil)
}

// ControlAddr returns the bound control plane address.
func (s *Service) ControlAddr() net.Addr {
	return s.control.Addr()
}

// Participants returns the registered participants.
func (s *Service) Participants() []auction.Participant {
	return s.house.Participants()
}

// Items returns the active items.
func (s *Service) Items() []auction.Item {
	return s.house.Items()
}

// Item returns the active item with the given name.
func (s *Service) Item(name string) (auction.Item, error) {
	return s.house.Item(name)
}

// Transactions returns in-flight and recent finalizations.
func (s *Service) Transactions() []auction.Transaction {
	return s.house.Transactions()
}

func (s *Service) handle(_ context.Context, from *net.UDPAddr, msg message.Message) message.Message {
	log.Debugf("received %s from %s", msg.Kind(), from)

	switch m := msg.(type) {
	case *message.Register:
		addr := auction.Address{Host: from.IP.String(), UDPPort: m.UDPPort, TCPPort: m.TCPPort}
		if m.IP != "" && m.IP != addr.Host {
			log.Debugf("%s registers from %s but claims %s", m.Name, addr.Host, m.IP)
		}
		p, err := s.house.Register(m.Name, m.Role, addr)
		if err != nil {
			deny(msg, from, err)
			return &message.RegisterDenied{RQ: m.RQ, Reason: err.Error()}
		}
		return &message.Registered{RQ: m.RQ, Name: p.Name, ClientID: p.ID}

	case *message.Deregister:
		if err := s.house.Deregister(m.Name); err != nil {
			deny(msg, from, err)
			return &message.DeregisterFailed{RQ: m.RQ, Name: m.Name, Reason: err.Error()}
		}
		return &message.Deregistered{RQ: m.RQ, Name: m.Name}

	case *message.ShowClients:
		ps := s.house.Participants()
		clients := make([]message.ClientInfo, len(ps))
		for i, p := range ps {
			clients[i] = message.ClientInfo{
				Name:    p.Name,
				Role:    string(p.Role),
				IP:      p.Address.Host,
				UDPPort: p.Address.UDPPort,
				TCPPort: p.Address.TCPPort,
			}
		}
		return &message.ClientList{RQ: m.RQ, Clients: clients}

	case *message.ListItem:
		id, err := s.house.ListItem(m.Name, m.ItemName, m.Description, m.StartPrice, m.Duration)
		if err != nil {
			deny(msg, from, err)
			return &message.ListDenied{RQ: m.RQ, ItemName: m.ItemName, Reason: err.Error()}
		}
		return &message.ItemListed{RQ: message.CorrelationID(id), ItemName: m.ItemName}

	case *message.Subscribe:
		name, err := s.sender(from, m.Name)
		if err == nil {
			err = s.house.Subscribe(name, m.ItemName)
		}
		if err != nil {
			deny(msg, from, err)
			return &message.SubscriptionDenied{RQ: m.RQ, ItemName: m.ItemName, Reason: err.Error()}
		}
		return &message.Subscribed{RQ: m.RQ, ItemName: m.ItemName}

	case *message.Unsubscribe:
		name, err := s.sender(from, m.Name)
		if err == nil {
			err = s.house.Unsubscribe(name, m.ItemName)
		}
		if err != nil {
			deny(msg, from, err)
			return &message.UnsubscribeFailed{RQ: m.RQ, ItemName: m.ItemName, Reason: err.Error()}
		}
		return &message.Unsubscribed{RQ: m.RQ, ItemName: m.ItemName}

	case *message.Bid:
		name, err := s.sender(from, m.BidderName)
		if err == nil {
			err = s.house.Bid(name, m.ItemName, string(m.RQ), m.BidAmount)
		}
		if err != nil {
			deny(msg, from, err)
			return &message.BidRejected{
				RQ:         m.RQ,
				ItemName:   m.ItemName,
				BidAmount:  m.BidAmount,
				BidderName: m.BidderName,
				Reason:     err.Error(),
			}
		}
		return &message.BidAccepted{RQ: m.RQ, ItemName: m.ItemName, BidAmount: m.BidAmount, BidderName: m.BidderName}

	case *message.Accept:
		name, err := s.sender(from, m.Name)
		if err == nil {
			err = s.house.AcceptNegotiation(name, m.ItemName, string(m.RQ), m.NewPrice)
		}
		return s.negotiationReply(msg, from, m.RQ, m.ItemName, err, &message.Accepted{RQ: m.RQ, ItemName: m.ItemName})

	case *message.Refuse:
		name, err := s.sender(from, m.Name)
		if err == nil {
			err = s.house.RefuseNegotiation(name, m.ItemName, string(m.RQ))
		}
		return s.negotiationReply(msg, from, m.RQ, m.ItemName, err, &message.Refused{RQ: m.RQ, ItemName: m.ItemName})

	default:
		log.Warnf("ignoring unexpected %s from %s", msg.Kind(), from)
		return nil
	}
}

// sender returns the name of the participant registered at the source
// address of a datagram. A claimed name must match it. When nothing is
// registered at that address the claimed name is used.
func (s *Service) sender(from *net.UDPAddr, claimed string) (string, error) {
	claimed = strings.TrimSpace(claimed)
	p, err := s.house.ParticipantAt(auction.Address{Host: from.IP.String(), UDPPort: from.Port})
	if err != nil {
		if claimed != "" {
			return claimed, nil
		}
		return "", err
	}
	if claimed != "" && auction.Key(claimed) != auction.Key(p.Name) {
		return "", auction.Invalidf("name %s does not match sender %s", claimed, p.Name)
	}
	return p.Name, nil
}

// negotiationReply returns ok, a denial, or nothing for answers to an old
// listing.
func (s *Service) negotiationReply(
	msg message.Message,
	from *net.UDPAddr,
	rq message.CorrelationID,
	item string,
	err error,
	ok message.Message) message.Message {
	if errors.Is(err, auction.ErrStaleCorrelation) {
		log.Debugf("ignoring stale %s from %s for %s", msg.Kind(), from, item)
		return nil
	}
	if err != nil {
		deny(msg, from, err)
		return &message.NegotiationDenied{RQ: rq, ItemName: item, Reason: err.Error()}
	}
	return ok
}

func deny(msg message.Message, from *net.UDPAddr, err error) {
	log.Debugf("denied %s from %s (%s): %v", msg.Kind(), from, auction.Classify(err), err)
}
