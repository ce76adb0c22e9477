package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/textileio/auctionhouse/auction"
	golog "github.com/textileio/go-log/v2"
)

var (
	log = golog.Logger("auctionhouse/api")
)

// Service provides scoped access to the auction house.
type Service interface {
	Participants() []auction.Participant
	Items() []auction.Item
	Item(name string) (auction.Item, error)
	Transactions() []auction.Transaction
}

// NewServer returns a new http server exposing the auction house state.
func NewServer(listenAddr string, service Service) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           createMux(service),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

func createMux(service Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpError(w, "only GET method is allowed", http.StatusBadRequest)
	})
	r.Get("/health", healthHandler)
	r.Get("/clients", clientsHandler(service))
	r.Get("/items", itemsHandler(service))
	r.Get("/items/{name}", itemHandler(service))
	r.Get("/transactions", transactionsHandler(service))
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type client struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	IP         string `json:"ip"`
	UDPPort    int    `json:"udp_port"`
	TCPPort    int    `json:"tcp_port"`
	Registered string `json:"registered"`
}

func clientsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps := service.Participants()
		res := make([]client, len(ps))
		for i, p := range ps {
			res[i] = client{
				ID:         p.ID,
				Name:       p.Name,
				Role:       string(p.Role),
				IP:         p.Address.Host,
				UDPPort:    p.Address.UDPPort,
				TCPPort:    p.Address.TCPPort,
				Registered: humanize.Time(p.RegisteredAt),
			}
		}
		writeJSON(w, res)
	}
}

type item struct {
	AuctionID          string   `json:"auction_id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Seller             string   `json:"seller"`
	StartPrice         float64  `json:"start_price"`
	CurrentPrice       float64  `json:"current_price"`
	Duration           int      `json:"duration"`
	TimeLeft           int      `json:"time_left"`
	HighestBidder      string   `json:"highest_bidder,omitempty"`
	Bidders            []string `json:"bidders,omitempty"`
	NegotiationOffered bool     `json:"negotiation_offered"`
	Status             string   `json:"status"`
	Listed             string   `json:"listed"`
}

func toItem(it auction.Item) item {
	return item{
		AuctionID:          it.AuctionID,
		Name:               it.Name,
		Description:        it.Description,
		Seller:             it.Seller,
		StartPrice:         it.StartPrice,
		CurrentPrice:       it.CurrentPrice,
		Duration:           it.Duration,
		TimeLeft:           it.TimeLeft,
		HighestBidder:      it.HighestBidder,
		Bidders:            it.Bidders,
		NegotiationOffered: it.NegotiationOffered,
		Status:             it.Status.String(),
		Listed:             humanize.Time(it.ListedAt),
	}
}

func itemsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := service.Items()
		res := make([]item, len(items))
		for i, it := range items {
			res[i] = toItem(it)
		}
		writeJSON(w, res)
	}
}

func itemHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		it, err := service.Item(name)
		if errors.Is(err, auction.ErrItemNotFound) {
			httpError(w, fmt.Sprintf("get item: %s", err), http.StatusNotFound)
			return
		} else if err != nil {
			httpError(w, fmt.Sprintf("get item: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, toItem(it))
	}
}

type transaction struct {
	ID        string  `json:"id"`
	AuctionID string  `json:"auction_id"`
	ItemName  string  `json:"item_name"`
	Buyer     string  `json:"buyer"`
	Seller    string  `json:"seller"`
	Price     float64 `json:"price"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason,omitempty"`
	Started   string  `json:"started"`
	Deadline  string  `json:"deadline"`
}

func transactionsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txs := service.Transactions()
		res := make([]transaction, len(txs))
		for i, tx := range txs {
			res[i] = transaction{
				ID:        tx.ID,
				AuctionID: tx.AuctionID,
				ItemName:  tx.ItemName,
				Buyer:     tx.Buyer,
				Seller:    tx.Seller,
				Price:     tx.Price,
				Status:    tx.Status.String(),
				Reason:    tx.Reason,
				Started:   humanize.Time(tx.StartedAt),
				Deadline:  humanize.Time(tx.Deadline),
			}
		}
		writeJSON(w, res)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, fmt.Sprintf("json encoding: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, err string, status int) {
	log.Debugf("request error: %s", err)
	http.Error(w, err, status)
}
