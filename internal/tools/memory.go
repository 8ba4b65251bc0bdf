package tools

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes a tool and returns raw text.
type Handler func(ctx context.Context, args map[string]string) (string, error)

// TypedHandler executes a tool and flags application errors explicitly.
type TypedHandler func(ctx context.Context, args map[string]string) (Result, error)

type entry struct {
	desc    Descriptor
	handler TypedHandler
	sniff   bool
	enabled bool
}

// MemoryRegistry is an in-process Registry. It is safe for concurrent use.
type MemoryRegistry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	order     []string
	listeners []func()
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]*entry)}
}

// Register adds a tool whose text result is classified by ClassifyResult.
func (r *MemoryRegistry) Register(desc Descriptor, h Handler) error {
	typed := func(ctx context.Context, args map[string]string) (Result, error) {
		text, err := h(ctx, args)
		return Result{Text: text}, err
	}
	return r.add(desc, typed, true)
}

// RegisterTyped adds a tool that reports errors explicitly.
func (r *MemoryRegistry) RegisterTyped(desc Descriptor, h TypedHandler) error {
	return r.add(desc, h, false)
}

func (r *MemoryRegistry) add(desc Descriptor, h TypedHandler, sniff bool) error {
	if desc.Name == "" || h == nil {
		return fmt.Errorf("%w: name and handler are required", ErrInvalidDescriptor)
	}

	r.mu.Lock()
	if _, exists := r.entries[desc.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTool, desc.Name)
	}
	r.entries[desc.Name] = &entry{desc: desc, handler: h, sniff: sniff, enabled: true}
	r.order = append(r.order, desc.Name)
	r.mu.Unlock()

	r.notify()
	return nil
}

// Unregister removes a tool. It reports whether the tool existed.
func (r *MemoryRegistry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		r.notify()
	}
	return ok
}

// SetEnabled toggles a tool without removing it.
func (r *MemoryRegistry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	changed := ok && e.enabled != enabled
	if changed {
		e.enabled = enabled
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if changed {
		r.notify()
	}
	return nil
}

// OnChange registers fn to be called after the enabled set changes.
func (r *MemoryRegistry) OnChange(fn func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *MemoryRegistry) notify() {
	r.mu.RLock()
	listeners := make([]func(), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// ListEnabledTools returns enabled tools in registration order.
func (r *MemoryRegistry) ListEnabledTools() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		if e := r.entries[name]; e.enabled {
			out = append(out, e.desc)
		}
	}
	return out
}

// FindTool looks up an enabled tool.
func (r *MemoryRegistry) FindTool(name string) (Descriptor, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Execute runs the tool and returns its text.
func (r *MemoryRegistry) Execute(ctx context.Context, name string, args map[string]string) (string, error) {
	res, err := r.ExecuteTyped(ctx, name, args)
	return res.Text, err
}

// ExecuteTyped runs the tool. Results of untyped handlers are classified
// with ClassifyResult.
func (r *MemoryRegistry) ExecuteTyped(ctx context.Context, name string, args map[string]string) (Result, error) {
	e, ok := r.lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	res, err := e.handler(ctx, args)
	if err != nil {
		return Result{}, err
	}
	if e.sniff {
		res.IsError = ClassifyResult(res.Text)
	}
	return res, nil
}

func (r *MemoryRegistry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok || !e.enabled {
		return nil, false
	}
	return e, true
}
