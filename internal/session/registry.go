package session

import (
	"sync"
	"time"

	"github.com/jykim-dev/chesslink/internal/board"
)

// Entry is the live runtime state of one session. The entry mutex serializes
// every handler touching the same game; the synchronous span of a handler
// (turn check, move application, state update) runs under it in full, which
// is what makes move processing atomic per session. Cross-session work takes
// different entry locks and interleaves freely.
type Entry struct {
	Code string

	mu           sync.Mutex
	Board        *board.Board
	Participants []*Binding
	Status       Status
	Result       Result
	DrawOffer    *DrawOffer
	LastActivity time.Time
	MovesUCI     []string
	MovesSAN     []string
	seq          uint64 // bumped per snapshot, under mu

	persistMu    sync.Mutex
	persistedSeq uint64 // newest snapshot written to the store, under persistMu
}

func (e *Entry) bindingFor(connID string) *Binding {
	for _, b := range e.Participants {
		if b.ConnID == connID {
			return b
		}
	}
	return nil
}

// Registry maps session codes to live entries. It is the single shared
// mutable structure; all mutation goes through its methods. Lock order is
// always registry before entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	byConn  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		byConn:  make(map[string]string),
	}
}

// Create installs a fresh entry with the creator bound. It never overwrites:
// an existing code yields ErrDuplicateCode.
func (r *Registry) Create(code string, creator *Binding) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[code]; exists {
		return nil, ErrDuplicateCode
	}
	if _, bound := r.byConn[creator.ConnID]; bound {
		return nil, ErrAlreadyBound
	}
	b, err := board.Load("")
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Code:         code,
		Board:        b,
		Participants: []*Binding{creator},
		Status:       StatusWaiting,
		LastActivity: time.Now(),
		MovesUCI:     []string{},
		MovesSAN:     []string{},
	}
	r.entries[code] = e
	r.byConn[creator.ConnID] = code
	return e, nil
}

// Get returns the entry for code, or nil.
func (r *Registry) Get(code string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[code]
}

// Bind seats a second connection. The joiner receives the color the creator
// did not take.
func (r *Registry) Bind(code, connID, platform string) (*Entry, *Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[code]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if _, bound := r.byConn[connID]; bound {
		return nil, nil, ErrAlreadyBound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status == StatusCompleted || e.Status == StatusAbandoned {
		return nil, nil, ErrGameOver
	}
	if len(e.Participants) >= 2 {
		return nil, nil, ErrFull
	}
	color := board.White
	if len(e.Participants) == 1 {
		color = e.Participants[0].Color.Opponent()
	}
	b := &Binding{ConnID: connID, Code: code, Color: color, Platform: platform}
	e.Participants = append(e.Participants, b)
	r.byConn[connID] = code
	return e, b, nil
}

// Unbind removes whatever binding connID holds. Safe to call twice: the
// second call reports ok=false and changes nothing, so duplicate disconnect
// events cannot double-notify.
func (r *Registry) Unbind(connID string) (code string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok = r.byConn[connID]
	if !ok {
		return "", 0, false
	}
	delete(r.byConn, connID)
	e := r.entries[code]
	if e == nil {
		return code, 0, true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.Participants[:0]
	for _, b := range e.Participants {
		if b.ConnID != connID {
			kept = append(kept, b)
		}
	}
	e.Participants = kept
	return code, len(kept), true
}

// Resolve finds the entry and binding for a connection, or nils.
func (r *Registry) Resolve(connID string) (*Entry, *Binding) {
	r.mu.RLock()
	code, ok := r.byConn[connID]
	if !ok {
		r.mu.RUnlock()
		return nil, nil
	}
	e := r.entries[code]
	r.mu.RUnlock()
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e, e.bindingFor(connID)
}

// Members returns the connection ids currently bound to a session. The
// gateway uses this to address the opponent when relaying events.
func (r *Registry) Members(code string) []string {
	r.mu.RLock()
	e := r.entries[code]
	r.mu.RUnlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.Participants))
	for _, b := range e.Participants {
		out = append(out, b.ConnID)
	}
	return out
}

// Remove evicts the entry and any stray connection index pointing at it.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, code)
	for conn, c := range r.byConn {
		if c == code {
			delete(r.byConn, conn)
		}
	}
}

// EvictIfEmpty removes the entry only when no participant remains bound.
// Used by the disconnect grace timer.
func (r *Registry) EvictIfEmpty(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[code]
	if !ok {
		return false
	}
	e.mu.Lock()
	empty := len(e.Participants) == 0
	e.mu.Unlock()
	if !empty {
		return false
	}
	delete(r.entries, code)
	return true
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
