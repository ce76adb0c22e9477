package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxSize is the largest encoded message accepted on either plane.
const MaxSize = 64 * 1024

var (
	// ErrMalformed indicates a payload that is not a valid message.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType indicates a payload with an unrecognized type tag.
	ErrUnknownType = errors.New("unknown message type")
)

type variant struct {
	new      func() Message
	required []string
}

var variants = map[Type]variant{
	TypeRegister:         {func() Message { return &Register{} }, []string{"rq#", "name", "role", "udp_port", "tcp_port"}},
	TypeRegistered:       {func() Message { return &Registered{} }, []string{"rq#"}},
	TypeRegisterDenied:   {func() Message { return &RegisterDenied{} }, []string{"rq#"}},
	TypeDeregister:       {func() Message { return &Deregister{} }, []string{"rq#", "name"}},
	TypeDeregistered:     {func() Message { return &Deregistered{} }, []string{"rq#", "name"}},
	TypeDeregisterFailed: {func() Message { return &DeregisterFailed{} }, []string{"rq#", "name"}},
	TypeShowClients:      {func() Message { return &ShowClients{} }, nil},
	TypeClientList:       {func() Message { return &ClientList{} }, []string{"clients"}},

	TypeListItem: {func() Message { return &ListItem{} },
		[]string{"rq#", "name", "item_name", "item_description", "start_price", "duration"}},
	TypeItemListed: {func() Message { return &ItemListed{} }, []string{"rq#", "item_name"}},
	TypeListDenied: {func() Message { return &ListDenied{} }, []string{"rq#", "item_name"}},

	TypeSubscribe:          {func() Message { return &Subscribe{} }, []string{"rq#", "item_name"}},
	TypeSubscribed:         {func() Message { return &Subscribed{} }, []string{"rq#", "item_name"}},
	TypeSubscriptionDenied: {func() Message { return &SubscriptionDenied{} }, []string{"rq#", "item_name"}},
	TypeUnsubscribe:        {func() Message { return &Unsubscribe{} }, []string{"rq#", "item_name"}},
	TypeUnsubscribed:       {func() Message { return &Unsubscribed{} }, []string{"rq#", "item_name"}},
	TypeUnsubscribeFailed:  {func() Message { return &UnsubscribeFailed{} }, []string{"rq#", "item_name"}},

	TypeAuctionAnnounce: {func() Message { return &AuctionAnnounce{} },
		[]string{"rq#", "item_name", "item_description", "current_price", "time_left"}},
	TypeBid:         {func() Message { return &Bid{} }, []string{"rq#", "item_name", "bid_amount", "bidder_name"}},
	TypeBidAccepted: {func() Message { return &BidAccepted{} }, []string{"rq#", "item_name", "bid_amount"}},
	TypeBidRejected: {func() Message { return &BidRejected{} }, []string{"rq#", "item_name", "bid_amount"}},
	TypeBidUpdate: {func() Message { return &BidUpdate{} },
		[]string{"rq#", "item_name", "highest_bid", "bidder_name", "time_left"}},

	TypeNegotiateRequest: {func() Message { return &NegotiateRequest{} },
		[]string{"rq#", "item_name", "current_price", "time_left"}},
	TypeAccept:            {func() Message { return &Accept{} }, []string{"rq#", "item_name", "new_price"}},
	TypeRefuse:            {func() Message { return &Refuse{} }, []string{"rq#", "item_name"}},
	TypeAccepted:          {func() Message { return &Accepted{} }, []string{"rq#", "item_name"}},
	TypeRefused:           {func() Message { return &Refused{} }, []string{"rq#", "item_name"}},
	TypeNegotiationDenied: {func() Message { return &NegotiationDenied{} }, []string{"rq#", "item_name"}},
	TypePriceAdjustment: {func() Message { return &PriceAdjustment{} },
		[]string{"rq#", "item_name", "new_price", "time_left"}},

	TypeWinner: {func() Message { return &Winner{} }, []string{"rq#", "item_name"}},
	TypeSold:   {func() Message { return &Sold{} }, []string{"rq#", "item_name"}},
	TypeLoser:  {func() Message { return &Loser{} }, []string{"rq#", "item_name"}},
	TypeNoSale: {func() Message { return &NoSale{} }, []string{"rq#", "item_name"}},

	TypeInformRequest: {func() Message { return &InformRequest{} },
		[]string{"rq#", "item_name", "final_price", "rendezvous"}},
	TypeInformResponse: {func() Message { return &InformResponse{} }, []string{"rq#", "name"}},
	TypeCancel:         {func() Message { return &Cancel{} }, []string{"rq#", "reason"}},
	TypeShippingInfo: {func() Message { return &ShippingInfo{} },
		[]string{"rq#", "name", "address", "final_price"}},
}

// Encode sets the type tag of m and returns its JSON encoding.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encoding nil message")
	}
	m.header().Type = m.Kind()
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %v", m.Kind(), err)
	}
	if len(b) > MaxSize {
		return nil, fmt.Errorf("%s message is %d bytes, max is %d", m.Kind(), len(b), MaxSize)
	}
	return b, nil
}

// Decode parses a single message. Payloads with an unknown type, unknown
// fields, or missing required fields are rejected.
func Decode(b []byte) (Message, error) {
	if len(b) > MaxSize {
		return nil, fmt.Errorf("%w: payload is %d bytes", ErrMalformed, len(b))
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	tag, ok := raw["type"]
	if !ok {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	var t Type
	if err := json.Unmarshal(tag, &t); err != nil {
		return nil, fmt.Errorf("%w: type: %v", ErrMalformed, err)
	}
	v, ok := variants[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	for _, f := range v.required {
		val, ok := raw[f]
		if !ok || string(bytes.TrimSpace(val)) == "null" {
			return nil, fmt.Errorf("%w: %s is missing %q", ErrMalformed, t, f)
		}
	}

	m := v.new()
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	return m, nil
}
