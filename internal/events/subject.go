package events

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Subject names one event kind on the bus. Each subject maps to exactly
// one data type for the lifetime of the system.
type Subject string

const (
	OrderCreatedSubject   Subject = "ecommerce-order:created"
	OrderCancelledSubject Subject = "ecommerce-order:cancelled"
	OrderExpiredSubject   Subject = "ecommerce-order:expired"
	ModelCreatedSubject   Subject = "ecommerce-model:created"
	ModelUpdatedSubject   Subject = "ecommerce-model:updated"
)

func (s Subject) String() string {
	return string(s)
}

// Topic returns the Kafka topic carrying s. Kafka topic names only allow
// [a-zA-Z0-9._-], so ':' becomes '.'.
func (s Subject) Topic() string {
	return strings.ReplaceAll(string(s), ":", ".")
}

// Valid reports whether s has a registered data type.
func (s Subject) Valid() bool {
	_, ok := Lookup(s)
	return ok
}

var (
	registryMu sync.RWMutex
	registry   = map[Subject]reflect.Type{}
)

// Register binds the subject of e to e's concrete type. Registering a
// subject twice panics.
func Register(e Event) {
	t := reflect.TypeOf(e)
	if t.Kind() == reflect.Ptr {
		panic(fmt.Sprintf("events: register %s by value, not pointer", t))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	subject := e.Subject()
	if existing, ok := registry[subject]; ok {
		panic(fmt.Sprintf("events: subject %q already registered to %s", subject, existing))
	}
	registry[subject] = t
}

func Lookup(subject Subject) (reflect.Type, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	t, ok := registry[subject]
	return t, ok
}

// Subjects lists registered subjects in lexical order.
func Subjects() []Subject {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Subject, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseSubject accepts either the subject or its topic form.
func ParseSubject(s string) (Subject, error) {
	for _, subject := range Subjects() {
		if string(subject) == s || subject.Topic() == s {
			return subject, nil
		}
	}
	return "", fmt.Errorf("unknown subject %q", s)
}

func init() {
	Register(OrderCreated{})
	Register(OrderCancelled{})
	Register(OrderExpired{})
	Register(ModelCreated{})
	Register(ModelUpdated{})
}
