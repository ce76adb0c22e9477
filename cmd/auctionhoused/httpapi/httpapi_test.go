package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctionhouse/auction"
	golog "github.com/textileio/go-log/v2"
)

func init() {
	golog.SetAllLoggers(golog.LevelDebug)
}

func TestAPI_Health(t *testing.T) {
	mux := createMux(&mockService{})
	for _, tc := range []struct {
		name               string
		method             string
		expectedStatusCode int
	}{
		{"get", http.MethodGet, http.StatusOK},
		{"post", http.MethodPost, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := httptest.NewRecorder()
			req, _ := http.NewRequest(tc.method, "/health", nil)
			mux.ServeHTTP(res, req)
			require.Equal(t, tc.expectedStatusCode, res.Code)
		})
	}
}

func TestAPI_Clients(t *testing.T) {
	ms := &mockService{}
	mux := createMux(ms)
	ms.On("Participants").Return([]auction.Participant{{
		ID:           "id1",
		Name:         "Alice",
		Role:         auction.RoleBuyer,
		Address:      auction.Address{Host: "10.0.0.1", UDPPort: 5001, TCPPort: 6001},
		RegisteredAt: time.Now(),
	}})

	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/clients/", nil)
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var clients []client
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &clients))
	require.Len(t, clients, 1)
	assert.Equal(t, "Alice", clients[0].Name)
	assert.Equal(t, "Buyer", clients[0].Role)
	assert.Equal(t, "10.0.0.1", clients[0].IP)
	assert.Equal(t, 6001, clients[0].TCPPort)
	assert.Equal(t, "now", clients[0].Registered)
	ms.AssertExpectations(t)
}

func TestAPI_Items(t *testing.T) {
	vase := auction.Item{
		AuctionID:     "a1",
		Name:          "Vase",
		Seller:        "Sam",
		StartPrice:    10,
		CurrentPrice:  15,
		Duration:      4,
		TimeLeft:      2,
		HighestBidder: "Bella",
		Bidders:       []string{"Bella"},
		Status:        auction.StatusActive,
		ListedAt:      time.Now(),
	}
	ms := &mockService{}
	mux := createMux(ms)
	ms.On("Items").Return([]auction.Item{vase})
	ms.On("Item", "Vase").Return(vase, nil)
	ms.On("Item", "Lamp").Return(auction.Item{}, auction.ErrItemNotFound)

	for _, tc := range []struct {
		name               string
		url                string
		expectedStatusCode int
	}{
		{"list", "/items", http.StatusOK},
		{"list with trailing slash", "/items/", http.StatusOK},
		{"get found", "/items/Vase", http.StatusOK},
		{"get not found", "/items/Lamp", http.StatusNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, tc.url, nil)
			mux.ServeHTTP(res, req)
			require.Equal(t, tc.expectedStatusCode, res.Code)
		})
	}

	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/items/Vase", nil)
	mux.ServeHTTP(res, req)
	var got item
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	assert.Equal(t, "a1", got.AuctionID)
	assert.Equal(t, 15.0, got.CurrentPrice)
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, []string{"Bella"}, got.Bidders)
}

func TestAPI_Transactions(t *testing.T) {
	ms := &mockService{}
	mux := createMux(ms)
	now := time.Now()
	ms.On("Transactions").Return([]auction.Transaction{{
		ID:        "t1",
		AuctionID: "a1",
		ItemName:  "Vase",
		Buyer:     "Bella",
		Seller:    "Sam",
		Price:     15,
		Deadline:  now.Add(time.Minute),
		Status:    auction.StatusCancelled,
		Reason:    "payment declined",
		StartedAt: now,
	}})

	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/transactions", nil)
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var txs []transaction
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, "cancelled", txs[0].Status)
	assert.Equal(t, "payment declined", txs[0].Reason)
	assert.Equal(t, 15.0, txs[0].Price)
}

type mockService struct {
	mock.Mock
}

func (s *mockService) Participants() []auction.Participant {
	args := s.Called()
	return args.Get(0).([]auction.Participant)
}

func (s *mockService) Items() []auction.Item {
	args := s.Called()
	return args.Get(0).([]auction.Item)
}

func (s *mockService) Item(name string) (auction.Item, error) {
	args := s.Called(name)
	return args.Get(0).(auction.Item), args.Error(1)
}

func (s *mockService) Transactions() []auction.Transaction {
	args := s.Called()
	return args.Get(0).([]auction.Transaction)
}
