package events

import (
	"errors"
	"testing"
	"time"

	"github.com/blockmedi/medledger/block"
)

func testBlock(t *testing.T) *block.Block {
	t.Helper()
	b, err := block.BuildBlock(map[string]interface{}{"id": "A"}, block.TypeCreate, "2024-05-01T10:00:00Z", "", "clients", "id", "A")
	if err != nil {
		t.Fatalf("build block: %v", err)
	}
	return b
}

func TestEventBus(t *testing.T) {
	eventBus := NewEventBus()

	id, eventChan := eventBus.Subscribe()
	if count := eventBus.GetTotalSubscriptions(); count != 1 {
		t.Errorf("Expected 1 subscriber, got %d", count)
	}

	b := testBlock(t)
	go eventBus.Publish(NewBlockCommitted(b, 2))

	select {
	case received := <-eventChan:
		if received.Type() != EventBlockCommitted {
			t.Errorf("Expected BlockCommitted, got %s", received.Type())
		}
		if received.BlockHash() != b.Hash {
			t.Errorf("Expected block hash %s, got %s", b.Hash, received.BlockHash())
		}
		if committed := received.(*BlockCommitted); committed.Attempts() != 2 {
			t.Errorf("Expected 2 attempts, got %d", committed.Attempts())
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	if !eventBus.Unsubscribe(id) {
		t.Error("Expected unsubscribe to succeed")
	}
	if count := eventBus.GetTotalSubscriptions(); count != 0 {
		t.Errorf("Expected 0 subscribers after unsubscribe, got %d", count)
	}
	if _, open := <-eventChan; open {
		t.Error("Expected channel to be closed after unsubscribe")
	}
	if eventBus.Unsubscribe(id) {
		t.Error("Expected second unsubscribe to fail")
	}
}

func TestCommitFailedEvent(t *testing.T) {
	cause := errors.New("quorum not reached")
	event := NewCommitFailed("abc", "clients", "id", "A", cause)

	if event.Type() != EventCommitFailed {
		t.Errorf("Expected CommitFailed, got %s", event.Type())
	}
	collection, keyField, keyValue := event.Key()
	if collection != "clients" || keyField != "id" || keyValue != "A" {
		t.Errorf("Unexpected key %s.%s=%s", collection, keyField, keyValue)
	}
	if !errors.Is(event.Err(), cause) {
		t.Errorf("Expected cause to be kept, got %v", event.Err())
	}
}

func TestMultipleSubscribers(t *testing.T) {
	eventBus := NewEventBus()

	id1, eventChan1 := eventBus.Subscribe()
	id2, eventChan2 := eventBus.Subscribe()
	if count := eventBus.GetTotalSubscriptions(); count != 2 {
		t.Errorf("Expected 2 subscribers, got %d", count)
	}

	b := testBlock(t)
	eventBus.Publish(NewBlockCommitted(b, 1))

	for i, ch := range []chan LedgerEvent{eventChan1, eventChan2} {
		select {
		case received := <-ch:
			if received.BlockHash() != b.Hash {
				t.Errorf("Expected block hash %s on channel %d, got %s", b.Hash, i+1, received.BlockHash())
			}
		case <-time.After(1 * time.Second):
			t.Errorf("Timeout waiting for event on channel %d", i+1)
		}
	}

	eventBus.Unsubscribe(id1)
	eventBus.Unsubscribe(id2)
	if eventBus.HasSubscriber(id1) || eventBus.HasSubscriber(id2) {
		t.Error("Expected no subscribers after unsubscribe")
	}
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	eventBus := NewEventBus()
	_, ch := eventBus.Subscribe()

	b := testBlock(t)
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(ch)+10; i++ {
			eventBus.Publish(NewBlockCommitted(b, 1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) != cap(ch) {
		t.Errorf("Expected buffer to be full, got %d/%d", len(ch), cap(ch))
	}
}

func TestNilBusDropsEvents(t *testing.T) {
	var eventBus *EventBus
	eventBus.Publish(NewBlockCommitted(testBlock(t), 1))
}
