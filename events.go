package pooldb

import (
	"context"
	"sync"
	"time"
)

// EventKind enumerates the notifications fired by a Database
type EventKind int

const (
	BeforeQuery EventKind = iota
	AfterQuery
	BeforeInsert
	AfterInsert
	BeforeUpdate
	AfterUpdate
	BeforeDelete
	AfterDelete
	BeforeExecute
	AfterExecute
	BeginTransaction
	CommitTransaction
	RollbackTransaction
)

var eventNames = [...]string{
	BeforeQuery:         "db:beforeQuery",
	AfterQuery:          "db:afterQuery",
	BeforeInsert:        "db:beforeInsert",
	AfterInsert:         "db:afterInsert",
	BeforeUpdate:        "db:beforeUpdate",
	AfterUpdate:         "db:afterUpdate",
	BeforeDelete:        "db:beforeDelete",
	AfterDelete:         "db:afterDelete",
	BeforeExecute:       "db:beforeExecute",
	AfterExecute:        "db:afterExecute",
	BeginTransaction:    "db:beginTransaction",
	CommitTransaction:   "db:commitTransaction",
	RollbackTransaction: "db:rollbackTransaction",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "db:unknown"
	}
	return eventNames[k]
}

// EventKinds lists every kind, in declaration order
func EventKinds() []EventKind {
	kinds := make([]EventKind, len(eventNames))
	for i := range eventNames {
		kinds[i] = EventKind(i)
	}
	return kinds
}

// Event is the payload delivered to listeners
type Event interface {
	Kind() EventKind
}

// BeforeEvent is fired before a statement reaches a connection
type BeforeEvent struct {
	Type EventKind
	SQL  string
	Bind Bind
}

func (e BeforeEvent) Kind() EventKind { return e.Type }

// AfterQueryEvent is fired once a row set has been read
type AfterQueryEvent struct {
	SQL     string
	Bind    Bind
	Count   int
	Elapsed time.Duration
	Result  Rows
}

func (e AfterQueryEvent) Kind() EventKind { return AfterQuery }

// AfterInsertEvent is fired once Insert has executed
type AfterInsertEvent struct {
	SQL      string
	Record   Fields
	InsertID int64
	Elapsed  time.Duration
}

func (e AfterInsertEvent) Kind() EventKind { return AfterInsert }

// AfterExecEvent is fired after update, delete, raw insert and execute statements
type AfterExecEvent struct {
	Type    EventKind
	SQL     string
	Bind    Bind
	Count   int64
	Elapsed time.Duration
}

func (e AfterExecEvent) Kind() EventKind { return e.Type }

// TransactionEvent marks the outermost begin, commit or rollback
type TransactionEvent struct {
	Type EventKind
}

func (e TransactionEvent) Kind() EventKind { return e.Type }

// Listener receives events synchronously on the calling goroutine
type Listener func(ctx context.Context, ev Event)

// EventSink consumes events fired by a Database
type EventSink interface {
	Fire(ctx context.Context, ev Event)
}

type nopSink struct{}

func (nopSink) Fire(context.Context, Event) {}

// Bus is an EventSink dispatching to listeners subscribed per kind
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventKind][]Listener
	all       []Listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[EventKind][]Listener)}
}

// Subscribe registers l for the given kinds
func (b *Bus) Subscribe(l Listener, kinds ...EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range kinds {
		b.listeners[k] = append(b.listeners[k], l)
	}
}

// SubscribeAll registers l for every kind
func (b *Bus) SubscribeAll(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, l)
}

func (b *Bus) Fire(ctx context.Context, ev Event) {
	b.mu.RLock()
	specific := b.listeners[ev.Kind()]
	all := b.all
	b.mu.RUnlock()

	for _, l := range specific {
		l(ctx, ev)
	}
	for _, l := range all {
		l(ctx, ev)
	}
}
