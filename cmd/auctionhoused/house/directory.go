package house

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/metrics"
)

type directory struct {
	lk           sync.RWMutex
	participants map[string]auction.Participant
	// byControl maps a control address to a participant key.
	byControl map[string]string
}

func newDirectory() *directory {
	return &directory{
		participants: make(map[string]auction.Participant),
		byControl:    make(map[string]string),
	}
}

// Register adds a participant reachable at addr. Names are unique ignoring case
// and control addresses are unique.
func (h *House) Register(name, role string, addr auction.Address) (p auction.Participant, err error) {
	defer func() { metrics.MetricIncrCounter(h.ctx, err, h.metricRegistrations) }()

	if err := auction.ValidateName(name); err != nil {
		return auction.Participant{}, err
	}
	r, err := auction.ParseRole(role)
	if err != nil {
		return auction.Participant{}, err
	}
	if err := addr.Validate(); err != nil {
		return auction.Participant{}, err
	}

	name = strings.TrimSpace(name)
	h.dir.lk.Lock()
	defer h.dir.lk.Unlock()
	key := auction.Key(name)
	if _, ok := h.dir.participants[key]; ok {
		return auction.Participant{}, fmt.Errorf("%w: %s", auction.ErrNameTaken, name)
	}
	if other, ok := h.dir.byControl[addr.Control()]; ok {
		return auction.Participant{}, fmt.Errorf("%w: %s is used by %s",
			auction.ErrAddressTaken, addr.Control(), h.dir.participants[other].Name)
	}
	p = auction.Participant{
		ID:           uuid.NewString(),
		Name:         name,
		Role:         r,
		Address:      addr,
		RegisteredAt: time.Now(),
	}
	h.dir.participants[key] = p
	h.dir.byControl[addr.Control()] = key
	log.Infof("registered %s %s at %s", r, name, addr.Control())
	return p, nil
}

// Deregister removes the participant and every subscription it holds.
// Auctions it takes part in keep running with the snapshot taken when it
// listed or bid.
func (h *House) Deregister(name string) error {
	key := auction.Key(name)
	h.dir.lk.Lock()
	p, ok := h.dir.participants[key]
	if ok {
		delete(h.dir.participants, key)
		delete(h.dir.byControl, p.Address.Control())
	}
	h.dir.lk.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", auction.ErrNotRegistered, name)
	}

	h.lk.Lock()
	for item, set := range h.subs {
		delete(set, p.Address.Control())
		if len(set) == 0 {
			delete(h.subs, item)
		}
	}
	h.lk.Unlock()

	log.Infof("deregistered %s %s", p.Role, p.Name)
	return nil
}

// Participants returns all registered participants sorted by name.
func (h *House) Participants() []auction.Participant {
	h.dir.lk.RLock()
	defer h.dir.lk.RUnlock()
	res := make([]auction.Participant, 0, len(h.dir.participants))
	for _, p := range h.dir.participants {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return auction.Key(res[i].Name) < auction.Key(res[j].Name) })
	return res
}

// Participant returns the registered participant with the given name.
func (h *House) Participant(name string) (auction.Participant, error) {
	h.dir.lk.RLock()
	defer h.dir.lk.RUnlock()
	p, ok := h.dir.participants[auction.Key(name)]
	if !ok {
		return auction.Participant{}, fmt.Errorf("%w: %s", auction.ErrNotRegistered, name)
	}
	return p, nil
}

// ParticipantAt returns the participant registered at the control address of addr.
func (h *House) ParticipantAt(addr auction.Address) (auction.Participant, error) {
	h.dir.lk.RLock()
	defer h.dir.lk.RUnlock()
	key, ok := h.dir.byControl[addr.Control()]
	if !ok {
		return auction.Participant{}, fmt.Errorf("%w: no participant at %s", auction.ErrNotRegistered, addr.Control())
	}
	return h.dir.participants[key], nil
}

// withRole returns the participant named name if it is registered with role.
func (h *House) withRole(name string, role auction.Role) (auction.Participant, error) {
	p, err := h.Participant(name)
	if err != nil {
		return auction.Participant{}, err
	}
	if p.Role != role {
		return auction.Participant{}, fmt.Errorf("%w: %s is a %s", auction.ErrWrongRole, p.Name, p.Role)
	}
	return p, nil
}

// resolve returns the current directory entry for a participant snapshot,
// falling back to the snapshot once it deregistered.
func (h *House) resolve(p auction.Participant) auction.Participant {
	cur, err := h.Participant(p.Name)
	if err != nil || cur.Role != p.Role {
		return p
	}
	return cur
}
