package auction

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Role is the part a participant plays in the exchange.
type Role string

const (
	// RoleBuyer may subscribe to items and bid on them.
	RoleBuyer Role = "Buyer"
	// RoleSeller may list items and answer negotiation requests.
	RoleSeller Role = "Seller"
)

// ParseRole returns the Role for s, ignoring case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buyer":
		return RoleBuyer, nil
	case "seller":
		return RoleSeller, nil
	default:
		return "", Invalidf("role must be %s or %s", RoleBuyer, RoleSeller)
	}
}

// Address is where a participant can be reached.
type Address struct {
	Host    string
	UDPPort int
	TCPPort int
}

// Control returns the host:port of the unreliable control plane.
func (a Address) Control() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.UDPPort))
}

// Data returns the host:port of the reliable finalization plane.
func (a Address) Data() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.TCPPort))
}

// Validate returns an error if the address can't be used to reach a participant.
func (a Address) Validate() error {
	if a.Host == "" {
		return Invalidf("address host is empty")
	}
	if a.UDPPort <= 0 || a.UDPPort > math.MaxUint16 {
		return Invalidf("udp port %d out of range", a.UDPPort)
	}
	if a.TCPPort <= 0 || a.TCPPort > math.MaxUint16 {
		return Invalidf("tcp port %d out of range", a.TCPPort)
	}
	return nil
}

// Participant is a registered buyer or seller.
type Participant struct {
	ID           string
	Name         string
	Role         Role
	Address      Address
	RegisteredAt time.Time
}

// Key returns the normalized form of a participant or item name.
// Names are unique under this form.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateName checks that name is non-empty and made of letters only.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return Invalidf("name is empty")
	}
	for _, r := range name {
		if !unicode.IsLetter(r) {
			return Invalidf("name %q must contain only letters", name)
		}
	}
	return nil
}

// ValidatePrice checks that p is a usable positive price.
func ValidatePrice(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return Invalidf("price is not a number")
	}
	if p <= 0 {
		return Invalidf("price must be greater than zero")
	}
	return nil
}

// Status is the lifecycle state of an auction item or its sale.
type Status int

const (
	StatusUnspecified Status = iota
	StatusActive
	StatusNegotiationOffered
	StatusClosedNoBids
	StatusClosedSold
	StatusFinalizing
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusNegotiationOffered:
		return "negotiation_offered"
	case StatusClosedNoBids:
		return "closed_no_bids"
	case StatusClosedSold:
		return "closed_sold"
	case StatusFinalizing:
		return "finalizing"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unspecified"
	}
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Item is a point-in-time view of a listed item.
type Item struct {
	AuctionID          string
	Name               string
	Description        string
	Seller             string
	StartPrice         float64
	CurrentPrice       float64
	Duration           int
	TimeLeft           int
	HighestBidder      string
	Bidders            []string
	NegotiationOffered bool
	Status             Status
	ListedAt           time.Time
}

// Transaction is a point-in-time view of a purchase finalization.
type Transaction struct {
	ID        string
	AuctionID string
	ItemName  string
	Buyer     string
	Seller    string
	Price     float64
	Deadline  time.Time
	Status    Status
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
}

// String implements fmt.Stringer.
func (t Transaction) String() string {
	return fmt.Sprintf("%s[%s %s->%s %s]", t.ID, t.ItemName, t.Seller, t.Buyer, t.Status)
}
