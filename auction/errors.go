package auction

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid indicates a malformed request field.
	ErrInvalid = errors.New("invalid request")

	// ErrNameTaken indicates the participant name is already registered.
	ErrNameTaken = errors.New("name already in use")
	// ErrAddressTaken indicates another participant is registered at the same control address.
	ErrAddressTaken = errors.New("address already in use")
	// ErrNotRegistered indicates the participant is unknown.
	ErrNotRegistered = errors.New("participant not registered")
	// ErrWrongRole indicates the participant's role doesn't allow the operation.
	ErrWrongRole = errors.New("operation not allowed for role")
	// ErrItemExists indicates an active item with the same name exists.
	ErrItemExists = errors.New("item already listed")
	// ErrItemNotFound indicates no active item has the requested name.
	ErrItemNotFound = errors.New("item not found")
	// ErrStaleCorrelation indicates a correlation id that doesn't match the current listing.
	ErrStaleCorrelation = errors.New("correlation id does not match current listing")
	// ErrAuctionClosed indicates the auction no longer takes bids.
	ErrAuctionClosed = errors.New("auction closed to new bids")
	// ErrBidTooLow indicates the bid does not beat the current price.
	ErrBidTooLow = errors.New("bid must exceed current price")
	// ErrNotSubscribed indicates there is no such subscription.
	ErrNotSubscribed = errors.New("not subscribed to item")
	// ErrNoNegotiation indicates the item has no open negotiation offer.
	ErrNoNegotiation = errors.New("no negotiation in progress")

	// ErrMissingResponse indicates a party did not answer the inform request in time.
	ErrMissingResponse = errors.New("missing inform response")
	// ErrInvalidCard indicates the card number is not 16 digits.
	ErrInvalidCard = errors.New("invalid card number")
	// ErrInvalidExpiry indicates the card expiry is not a MM/YY date.
	ErrInvalidExpiry = errors.New("invalid card expiry")
	// ErrMissingAddress indicates the shipping address is empty.
	ErrMissingAddress = errors.New("missing shipping address")
	// ErrPaymentDeclined indicates the payment was refused.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrUnreachable indicates a party could not be contacted.
	ErrUnreachable = errors.New("participant unreachable")
	// ErrShuttingDown indicates the server stopped before the sale completed.
	ErrShuttingDown = errors.New("server shutting down")
)

// Invalidf returns an error wrapping ErrInvalid with a specific reason.
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Class is the error taxonomy used to report failures.
type Class string

const (
	ClassNone         Class = ""
	ClassValidation   Class = "validation"
	ClassDomain       Class = "domain"
	ClassTransport    Class = "transport"
	ClassFinalization Class = "finalization"
)

var domainErrors = []error{
	ErrNameTaken,
	ErrAddressTaken,
	ErrNotRegistered,
	ErrWrongRole,
	ErrItemExists,
	ErrItemNotFound,
	ErrStaleCorrelation,
	ErrAuctionClosed,
	ErrBidTooLow,
	ErrNotSubscribed,
	ErrNoNegotiation,
}

var finalizationErrors = []error{
	ErrMissingResponse,
	ErrInvalidCard,
	ErrInvalidExpiry,
	ErrMissingAddress,
	ErrPaymentDeclined,
	ErrUnreachable,
	ErrShuttingDown,
}

// Classify returns the class of err. Errors outside the known sets are
// reported as transport errors.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrInvalid) {
		return ClassValidation
	}
	for _, e := range domainErrors {
		if errors.Is(err, e) {
			return ClassDomain
		}
	}
	for _, e := range finalizationErrors {
		if errors.Is(err, e) {
			return ClassFinalization
		}
	}
	return ClassTransport
}
