package pooldb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventKindNames(t *testing.T) {
	assert.Equal(t, "db:beforeQuery", BeforeQuery.String())
	assert.Equal(t, "db:rollbackTransaction", RollbackTransaction.String())
	assert.Equal(t, "db:unknown", EventKind(100).String())
	assert.Len(t, EventKinds(), 13)
}

func TestBusDispatch(t *testing.T) {
	bus := NewBus()

	var specific, all []EventKind
	bus.Subscribe(func(_ context.Context, ev Event) {
		specific = append(specific, ev.Kind())
	}, AfterQuery, AfterInsert)
	bus.SubscribeAll(func(_ context.Context, ev Event) {
		all = append(all, ev.Kind())
	})

	bus.Fire(context.Background(), BeforeEvent{Type: BeforeQuery, SQL: "SELECT 1"})
	bus.Fire(context.Background(), AfterQueryEvent{SQL: "SELECT 1", Count: 1})
	bus.Fire(context.Background(), AfterInsertEvent{InsertID: 5})
	bus.Fire(context.Background(), TransactionEvent{Type: CommitTransaction})

	assert.Equal(t, []EventKind{AfterQuery, AfterInsert}, specific)
	assert.Equal(t, []EventKind{BeforeQuery, AfterQuery, AfterInsert, CommitTransaction}, all)
}

func TestListenerSeesPayload(t *testing.T) {
	bus := NewBus()

	var got AfterExecEvent
	bus.Subscribe(func(_ context.Context, ev Event) {
		got = ev.(AfterExecEvent)
	}, AfterDelete)

	db, err := NewWithConnection(newFakeConn("fake://host/db"), WithEvents(bus))
	assert.NoError(t, err)
	defer db.Close()

	_, err = db.Session(context.Background()).Delete("t", Fields{Eq("id", 9)}, Bind{})
	assert.NoError(t, err)

	assert.Equal(t, "DELETE FROM [t] WHERE [id]=:id", got.SQL)
	assert.Equal(t, int64(1), got.Count)
	assert.Equal(t, Params{"id": 9}, got.Bind.Named)
}
