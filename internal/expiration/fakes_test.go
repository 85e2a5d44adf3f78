package expiration

import (
	"context"
	"sync"
	"time"

	"eventcore/internal/delayqueue"
	"eventcore/internal/events"
	"eventcore/internal/orders"
	apperrors "eventcore/pkg/errors"
)

type memoryOrders struct {
	mu     sync.Mutex
	orders map[string]orders.Order
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{orders: make(map[string]orders.Order)}
}

func (m *memoryOrders) Track(_ context.Context, order orders.Order) (orders.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.orders[order.ID]; ok {
		return existing, false, nil
	}
	order.UpdatedAt = time.Now()
	m.orders[order.ID] = order
	return order, true, nil
}

func (m *memoryOrders) Get(_ context.Context, id string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return orders.Order{}, apperrors.ErrNotFound
	}
	return order, nil
}

func (m *memoryOrders) Transition(_ context.Context, id string, from, to events.OrderStatus) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return orders.Order{}, apperrors.ErrNotFound
	}
	if order.Status != from {
		return order, apperrors.ErrInvalidTransition
	}
	order.Status = to
	order.Version++
	m.orders[id] = order
	return order, nil
}

func (m *memoryOrders) Tombstone(ctx context.Context, id string) (orders.Order, bool, error) {
	return m.Track(ctx, orders.Order{ID: id, Status: events.StatusCancelled, Tombstone: true})
}

func (m *memoryOrders) MarkExpiryPublished(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok || order.Status != events.StatusExpired {
		return apperrors.ErrNotFound
	}
	order.ExpiredPublished = true
	m.orders[id] = order
	return nil
}

type scheduled struct {
	spec  delayqueue.JobSpec
	delay time.Duration
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]scheduled
	err  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]scheduled)}
}

func (f *fakeScheduler) Add(_ context.Context, spec delayqueue.JobSpec, delay time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.jobs[spec.ID]; ok {
		return false, nil
	}
	f.jobs[spec.ID] = scheduled{spec: spec, delay: delay}
	return true, nil
}

func (f *fakeScheduler) get(id string) (scheduled, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.jobs[id]
	return s, ok
}

type fakePublisher struct {
	mu        sync.Mutex
	published []events.OrderExpired
	failures  int
}

func (p *fakePublisher) Publish(_ context.Context, data events.OrderExpired) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return context.DeadlineExceeded
	}
	p.published = append(p.published, data)
	return nil
}

func (p *fakePublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.published))
	for _, e := range p.published {
		out = append(out, e.ID)
	}
	return out
}
