// Package handler maps decoded events to the functions that project them
// into the store.
package handler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"gorm.io/gorm"

	"github.com/0xredeth/doneth/pkg/decoder"
)

// BlockInfo describes the block an event was emitted in.
type BlockInfo struct {
	Number     uint64
	Hash       string
	Time       time.Time
	ParentHash string
}

// Context is passed to every handler. DB is the batch transaction; writes
// through it commit together with the sync checkpoint.
type Context struct {
	DB    *gorm.DB
	Block BlockInfo
	Log   types.Log
	Event *decoder.DecodedEvent
}

// Func handles one decoded event.
type Func func(ctx *Context) error

// Registry maps event ids ("Contract:Event") to handlers. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Func)}
}

// Global returns the process-wide registry.
func Global() *Registry { return globalRegistry }

// Register adds h to the global registry.
func Register(eventID string, h Func) { globalRegistry.Register(eventID, h) }

// Get looks up a handler in the global registry.
func Get(eventID string) (Func, bool) { return globalRegistry.Get(eventID) }

// Register sets the handler for eventID, replacing any previous one.
func (r *Registry) Register(eventID string, h Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventID] = h
}

// Get returns the handler for eventID.
func (r *Registry) Get(eventID string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventID]
	return h, ok
}

// HasHandler reports whether eventID has a handler.
func (r *Registry) HasHandler(eventID string) bool {
	_, ok := r.Get(eventID)
	return ok
}

// ListHandlers returns the registered event ids, sorted.
func (r *Registry) ListHandlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Handle dispatches ctx to the handler for its event. Events without a
// handler are skipped.
//
// Returns:
//   - error: nil on success or skip, wrapped handler error otherwise
func (r *Registry) Handle(ctx *Context) error {
	if ctx.Event == nil {
		return fmt.Errorf("event is nil")
	}

	h, ok := r.Get(ctx.Event.EventID)
	if !ok {
		return nil
	}

	if err := h(ctx); err != nil {
		return fmt.Errorf("handler %s: %w", ctx.Event.EventID, err)
	}
	return nil
}
