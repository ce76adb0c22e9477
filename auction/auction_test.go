package auction

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"Alice", "bob", "Zoë", "  Carol  "} {
		require.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", "   ", "alice1", "bob smith", "o'neil", "a-b"} {
		err := ValidateName(name)
		require.Error(t, err, name)
		require.True(t, errors.Is(err, ErrInvalid))
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()
	r, err := ParseRole("buyer")
	require.NoError(t, err)
	assert.Equal(t, RoleBuyer, r)
	r, err = ParseRole(" SELLER ")
	require.NoError(t, err)
	assert.Equal(t, RoleSeller, r)
	_, err = ParseRole("auctioneer")
	require.True(t, errors.Is(err, ErrInvalid))
}

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Key("Vase"), Key(" vASE "))
}

func TestAddress(t *testing.T) {
	t.Parallel()
	a := Address{Host: "127.0.0.1", UDPPort: 5001, TCPPort: 6001}
	require.NoError(t, a.Validate())
	assert.Equal(t, "127.0.0.1:5001", a.Control())
	assert.Equal(t, "127.0.0.1:6001", a.Data())

	require.Error(t, Address{UDPPort: 1, TCPPort: 1}.Validate())
	require.Error(t, Address{Host: "h", UDPPort: 0, TCPPort: 1}.Validate())
	require.Error(t, Address{Host: "h", UDPPort: 1, TCPPort: 70000}.Validate())
}

func TestValidatePrice(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidatePrice(0.01))
	require.Error(t, ValidatePrice(0))
	require.Error(t, ValidatePrice(-3))
	require.Error(t, ValidatePrice(math.NaN()))
	require.Error(t, ValidatePrice(math.Inf(1)))
}

func TestClassify(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ClassNone, Classify(nil))
	assert.Equal(t, ClassValidation, Classify(Invalidf("bad %s", "thing")))
	assert.Equal(t, ClassDomain, Classify(fmt.Errorf("bidding: %w", ErrBidTooLow)))
	assert.Equal(t, ClassFinalization, Classify(fmt.Errorf("%w: 15 digits", ErrInvalidCard)))
	assert.Equal(t, ClassTransport, Classify(errors.New("connection refused")))
}
