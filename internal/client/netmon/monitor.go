// Package netmon reports connectivity and its transitions. It only
// observes; deciding what to do about an outage is the scheduler's job.
package netmon

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/gophupload/internal/client/models"
)

// Monitor exposes the current connectivity and announces every change.
type Monitor interface {
	Current() models.NetworkStatus
	OnChange(fn func(models.NetworkStatus)) (unsubscribe func())
}

// Checker is implemented by monitors that can probe on demand instead of
// waiting for their next tick.
type Checker interface {
	Check(ctx context.Context) models.NetworkStatus
}

type subscriber struct {
	id uint64
	fn func(models.NetworkStatus)
}

// hub holds the current status and delivers every distinct transition to
// subscribers in the order it was recorded.
type hub struct {
	mu          sync.Mutex
	status      models.NetworkStatus
	subs        []subscriber
	nextID      uint64
	pending     []models.NetworkStatus
	dispatching bool
}

func (h *hub) Current() models.NetworkStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *hub) OnChange(fn func(models.NetworkStatus)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscriber{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.subs = slices.DeleteFunc(h.subs, func(s subscriber) bool { return s.id == id })
	}
}

// set records s and reports whether it differed from the previous status.
func (h *hub) set(s models.NetworkStatus) bool {
	h.mu.Lock()
	if h.status == s {
		h.mu.Unlock()
		return false
	}
	h.status = s
	h.pending = append(h.pending, s)
	if h.dispatching {
		h.mu.Unlock()
		return true
	}

	h.dispatching = true
	for len(h.pending) > 0 {
		batch := h.pending
		h.pending = nil
		subs := slices.Clone(h.subs)
		h.mu.Unlock()
		for _, st := range batch {
			for _, sub := range subs {
				sub.fn(st)
			}
		}
		h.mu.Lock()
	}
	h.dispatching = false
	h.mu.Unlock()
	return true
}

// Manual is a monitor driven by the host, for example from OS
// connectivity events or from tests.
type Manual struct {
	hub
}

func NewManual(initial models.NetworkStatus) *Manual {
	m := &Manual{}
	m.status = initial
	return m
}

// Set records a new status. Listeners fire only if it differs from the
// current one.
func (m *Manual) Set(s models.NetworkStatus) {
	m.set(s)
}
