package session

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Snapshot is a read-only copy of the connection state.
type Snapshot struct {
	Authenticated bool
	LoginID       string
	Currency      string
	Balance       decimal.Decimal
	HasBalance    bool
}

// State is the mutable connection state. Only the router and the
// connection-loss path write to it.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *State) authorized(loginID, currency string, balance *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Authenticated = true
	s.snap.LoginID = loginID
	s.snap.Currency = currency
	if balance != nil {
		s.snap.Balance = *balance
		s.snap.HasBalance = true
	}
}

func (s *State) setBalance(balance decimal.Decimal, currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Balance = balance
	s.snap.HasBalance = true
	if currency != "" {
		s.snap.Currency = currency
	}
}

func (s *State) clearAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Authenticated = false
}

// symbolSet tracks tick subscriptions: symbol → venue subscription id
// ("" until the first tick arrives).
type symbolSet struct {
	mu   sync.Mutex
	subs map[string]string
}

func newSymbolSet() *symbolSet {
	return &symbolSet{subs: make(map[string]string)}
}

// add tracks symbol. Returns false if it was already tracked.
func (s *symbolSet) add(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[symbol]; ok {
		return false
	}
	s.subs[symbol] = ""
	return true
}

// remove stops tracking symbol and returns its subscription id.
func (s *symbolSet) remove(symbol string) (id string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok = s.subs[symbol]
	delete(s.subs, symbol)
	return id, ok
}

// setID records the subscription id for a tracked symbol.
// Returns false if the symbol is not tracked.
func (s *symbolSet) setID(symbol, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[symbol]; !ok {
		return false
	}
	if id != "" {
		s.subs[symbol] = id
	}
	return true
}

// clearIDs forgets subscription ids, which do not survive a reconnect.
func (s *symbolSet) clearIDs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol := range s.subs {
		s.subs[symbol] = ""
	}
}

// symbols returns the tracked symbols, sorted.
func (s *symbolSet) symbols() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.subs))
	for symbol := range s.subs {
		out = append(out, symbol)
	}
	s.mu.Unlock()

	sort.Strings(out)
	return out
}

func (s *symbolSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// recentIDs remembers the last n ids added. Not safe for concurrent use.
type recentIDs struct {
	seen  map[int64]struct{}
	order []int64
	next  int
}

func newRecentIDs(n int) *recentIDs {
	if n < 1 {
		n = 1
	}
	return &recentIDs{
		seen:  make(map[int64]struct{}, n),
		order: make([]int64, 0, n),
	}
}

// add records id and reports whether it was new. The oldest id is evicted
// once n ids are held.
func (r *recentIDs) add(id int64) bool {
	if _, ok := r.seen[id]; ok {
		return false
	}
	if len(r.order) < cap(r.order) {
		r.order = append(r.order, id)
	} else {
		delete(r.seen, r.order[r.next])
		r.order[r.next] = id
		r.next = (r.next + 1) % len(r.order)
	}
	r.seen[id] = struct{}{}
	return true
}

func (r *recentIDs) len() int { return len(r.seen) }
