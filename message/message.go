// Package message defines the closed set of messages exchanged between the
// auction server and its participants.
//
// Every message is a JSON object tagged with a "type" field. Control-plane
// messages travel as single datagrams; finalization-plane messages are written
// newline-terminated, one per stream connection.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Type is the wire tag of a message.
type Type string

const (
	TypeRegister         Type = "REGISTER"
	TypeRegistered       Type = "REGISTERED"
	TypeRegisterDenied   Type = "REGISTER-DENIED"
	TypeDeregister       Type = "DE-REGISTER"
	TypeDeregistered     Type = "DE-REGISTERED"
	TypeDeregisterFailed Type = "DE-REGISTER-FAILED"
	TypeShowClients      Type = "SHOW-CLIENTS"
	TypeClientList       Type = "CLIENT-LIST"

	TypeListItem   Type = "LIST_ITEM"
	TypeItemListed Type = "ITEM_LISTED"
	TypeListDenied Type = "LIST-DENIED"

	TypeSubscribe          Type = "SUBSCRIBE"
	TypeSubscribed         Type = "SUBSCRIBED"
	TypeSubscriptionDenied Type = "SUBSCRIPTION-DENIED"
	TypeUnsubscribe        Type = "DE-SUBSCRIBE"
	TypeUnsubscribed       Type = "DE-SUBSCRIBED"
	TypeUnsubscribeFailed  Type = "DE-SUBSCRIBE-FAILED"

	TypeAuctionAnnounce Type = "AUCTION_ANNOUNCE"
	TypeBid             Type = "BID"
	TypeBidAccepted     Type = "BID_ACCEPTED"
	TypeBidRejected     Type = "BID_REJECTED"
	TypeBidUpdate       Type = "BID_UPDATE"

	TypeNegotiateRequest  Type = "NEGOTIATE_REQ"
	TypeAccept            Type = "ACCEPT"
	TypeRefuse            Type = "REFUSE"
	TypeAccepted          Type = "ACCEPTED"
	TypeRefused           Type = "REFUSED"
	TypeNegotiationDenied Type = "NEGOTIATION-DENIED"
	TypePriceAdjustment   Type = "PRICE_ADJUSTMENT"

	TypeWinner Type = "WINNER"
	TypeSold   Type = "SOLD"
	TypeLoser  Type = "LOSER"
	TypeNoSale Type = "NON_OFFER"

	TypeInformRequest  Type = "INFORM_Req"
	TypeInformResponse Type = "INFORM_Res"
	TypeCancel         Type = "CANCEL"
	TypeShippingInfo   Type = "Shipping_Info"
)

// CorrelationID ties a message to a request or to an auction listing.
// It is always written as a string but accepts JSON numbers, which older
// clients send.
type CorrelationID string

// UnmarshalJSON implements json.Unmarshaler.
func (c *CorrelationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = CorrelationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("correlation id must be a string or number: %v", err)
	}
	if _, err := strconv.ParseFloat(string(n), 64); err != nil {
		return fmt.Errorf("parsing correlation id: %v", err)
	}
	*c = CorrelationID(n)
	return nil
}

// Message is implemented by every wire message.
type Message interface {
	// Kind returns the wire tag of the message.
	Kind() Type
	header() *Header
}

// Header carries the tag shared by all messages.
type Header struct {
	Type Type `json:"type"`
}

func (h *Header) header() *Header { return h }

// ClientInfo describes a registered participant in a ClientList.
type ClientInfo struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	IP      string `json:"ip"`
	UDPPort int    `json:"udp_port"`
	TCPPort int    `json:"tcp_port"`
}

type Register struct {
	Header
	RQ      CorrelationID `json:"rq#"`
	Name    string        `json:"name"`
	Role    string        `json:"role"`
	IP      string        `json:"ip,omitempty"`
	UDPPort int           `json:"udp_port"`
	TCPPort int           `json:"tcp_port"`
}

type Registered struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	Name     string        `json:"name,omitempty"`
	ClientID string        `json:"client_id,omitempty"`
}

type RegisterDenied struct {
	Header
	RQ     CorrelationID `json:"rq#"`
	Reason string        `json:"reason,omitempty"`
}

type Deregister struct {
	Header
	RQ   CorrelationID `json:"rq#"`
	Name string        `json:"name"`
}

type Deregistered struct {
	Header
	RQ   CorrelationID `json:"rq#"`
	Name string        `json:"name"`
}

type DeregisterFailed struct {
	Header
	RQ     CorrelationID `json:"rq#"`
	Name   string        `json:"name"`
	Reason string        `json:"reason,omitempty"`
}

type ShowClients struct {
	Header
	RQ CorrelationID `json:"rq#,omitempty"`
}

type ClientList struct {
	Header
	RQ      CorrelationID `json:"rq#,omitempty"`
	Clients []ClientInfo  `json:"clients"`
}

type ListItem struct {
	Header
	RQ          CorrelationID `json:"rq#"`
	Name        string        `json:"name"`
	ItemName    string        `json:"item_name"`
	Description string        `json:"item_description"`
	StartPrice  float64       `json:"start_price"`
	Duration    int           `json:"duration"`
}

// ItemListed confirms a listing. RQ is the announcement id bids must carry.
type ItemListed struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
}

type ListDenied struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
	Reason   string        `json:"reason,omitempty"`
}

// Subscribe asks for announcements of an item. The sender is identified by
// its source address; Name is optional.
type Subscribe struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	Name     string        `json:"name,omitempty"`
	ItemName string        `json:"item_name"`
}

type Subscribed struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
}

type SubscriptionDenied struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
	Reason   string        `json:"reason,omitempty"`
}

type Unsubscribe struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	Name     string        `json:"name,omitempty"`
	ItemName string        `json:"item_name"`
}

type Unsubscribed struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
}

type UnsubscribeFailed struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
	Reason   string        `json:"reason,omitempty"`
}

// AuctionAnnounce advertises an item to its subscribers. RQ is the
// announcement id.
type AuctionAnnounce struct {
	Header
	RQ           CorrelationID `json:"rq#"`
	ItemName     string        `json:"item_name"`
	Description  string        `json:"item_description"`
	CurrentPrice float64       `json:"current_price"`
	TimeLeft     int           `json:"time_left"`
}

type Bid struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	ItemName   string        `json:"item_name"`
	BidAmount  float64       `json:"bid_amount"`
	BidderName string        `json:"bidder_name"`
}

type BidAccepted struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	ItemName   string        `json:"item_name"`
	BidAmount  float64       `json:"bid_amount"`
	BidderName string        `json:"bidder_name,omitempty"`
}

type BidRejected struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	ItemName   string        `json:"item_name"`
	BidAmount  float64       `json:"bid_amount"`
	BidderName string        `json:"bidder_name,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

type BidUpdate struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	ItemName   string        `json:"item_name"`
	HighestBid float64       `json:"highest_bid"`
	BidderName string        `json:"bidder_name"`
	TimeLeft   int           `json:"time_left"`
}

type NegotiateRequest struct {
	Header
	RQ           CorrelationID `json:"rq#"`
	ItemName     string        `json:"item_name"`
	CurrentPrice float64       `json:"current_price"`
	TimeLeft     int           `json:"time_left"`
}

// Accept lowers the price of an item in answer to a NegotiateRequest. Name
// is optional like in Subscribe.
type Accept struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	Name     string        `json:"name,omitempty"`
	ItemName string        `json:"item_name"`
	NewPrice float64       `json:"new_price"`
}

type Refuse struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	Name     string        `json:"name,omitempty"`
	ItemName string        `json:"item_name"`
}

type Accepted struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
}

type Refused struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
}

type NegotiationDenied struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
	Reason   string        `json:"reason,omitempty"`
}

type PriceAdjustment struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
	NewPrice float64       `json:"new_price"`
	TimeLeft int           `json:"time_left"`
}

type Winner struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	ItemName   string        `json:"item_name"`
	FinalPrice float64       `json:"final_price"`
	SellerName string        `json:"seller_name"`
}

type Sold struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	ItemName   string        `json:"item_name"`
	FinalPrice float64       `json:"final_price"`
	BuyerName  string        `json:"buyer_name"`
}

type Loser struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	ItemName   string        `json:"item_name"`
	FinalPrice float64       `json:"final_price"`
	WinnerName string        `json:"winner_name"`
}

type NoSale struct {
	Header
	RQ       CorrelationID `json:"rq#"`
	ItemName string        `json:"item_name"`
}

// InformRequest asks a party for payment or shipping details, to be sent to
// Rendezvous (host:port).
type InformRequest struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	ItemName   string        `json:"item_name"`
	FinalPrice float64       `json:"final_price"`
	Rendezvous string        `json:"rendezvous"`
}

// InformResponse carries a party's details. Buyers fill the card fields and
// their shipping address; sellers only their return address.
type InformResponse struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	Name       string        `json:"name"`
	ItemName   string        `json:"item_name,omitempty"`
	CardNumber string        `json:"cc#,omitempty"`
	Expiry     string        `json:"exp_date,omitempty"`
	Address    string        `json:"address,omitempty"`
}

type Cancel struct {
	Header
	RQ     CorrelationID `json:"rq#"`
	Reason string        `json:"reason"`
}

type ShippingInfo struct {
	Header
	RQ         CorrelationID `json:"rq#"`
	ItemName   string        `json:"item_name,omitempty"`
	BuyerName  string        `json:"name"`
	Address    string        `json:"address"`
	FinalPrice float64       `json:"final_price"`
}

func (*Register) Kind() Type           { return TypeRegister }
func (*Registered) Kind() Type         { return TypeRegistered }
func (*RegisterDenied) Kind() Type     { return TypeRegisterDenied }
func (*Deregister) Kind() Type         { return TypeDeregister }
func (*Deregistered) Kind() Type       { return TypeDeregistered }
func (*DeregisterFailed) Kind() Type   { return TypeDeregisterFailed }
func (*ShowClients) Kind() Type        { return TypeShowClients }
func (*ClientList) Kind() Type         { return TypeClientList }
func (*ListItem) Kind() Type           { return TypeListItem }
func (*ItemListed) Kind() Type         { return TypeItemListed }
func (*ListDenied) Kind() Type         { return TypeListDenied }
func (*Subscribe) Kind() Type          { return TypeSubscribe }
func (*Subscribed) Kind() Type         { return TypeSubscribed }
func (*SubscriptionDenied) Kind() Type { return TypeSubscriptionDenied }
func (*Unsubscribe) Kind() Type        { return TypeUnsubscribe }
func (*Unsubscribed) Kind() Type       { return TypeUnsubscribed }
func (*UnsubscribeFailed) Kind() Type  { return TypeUnsubscribeFailed }
func (*AuctionAnnounce) Kind() Type    { return TypeAuctionAnnounce }
func (*Bid) Kind() Type                { return TypeBid }
func (*BidAccepted) Kind() Type        { return TypeBidAccepted }
func (*BidRejected) Kind() Type        { return TypeBidRejected }
func (*BidUpdate) Kind() Type          { return TypeBidUpdate }
func (*NegotiateRequest) Kind() Type   { return TypeNegotiateRequest }
func (*Accept) Kind() Type             { return TypeAccept }
func (*Refuse) Kind() Type             { return TypeRefuse }
func (*Accepted) Kind() Type           { return TypeAccepted }
func (*Refused) Kind() Type            { return TypeRefused }
func (*NegotiationDenied) Kind() Type  { return TypeNegotiationDenied }
func (*PriceAdjustment) Kind() Type    { return TypePriceAdjustment }
func (*Winner) Kind() Type             { return TypeWinner }
func (*Sold) Kind() Type               { return TypeSold }
func (*Loser) Kind() Type              { return TypeLoser }
func (*NoSale) Kind() Type             { return TypeNoSale }
func (*InformRequest) Kind() Type      { return TypeInformRequest }
func (*InformResponse) Kind() Type     { return TypeInformResponse }
func (*Cancel) Kind() Type             { return TypeCancel }
func (*ShippingInfo) Kind() Type       { return TypeShippingInfo }
