package realtime

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/store/sqlstore"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(zaptest.NewLogger(t))
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, s *Subscriber) models.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("Events channel closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return models.ChangeEvent{}
}

func expectNone(t *testing.T, s *Subscriber) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Errorf("Expected no event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubFiltersByRelationAndColumn(t *testing.T) {
	hub := startHub(t)

	chat12 := hub.Subscribe(models.Subscription{
		Relation: models.RelationMessages,
		Events:   models.MaskInsert,
		Filter:   &models.Filter{Column: "chat_id", Value: "12"},
	})
	defer chat12.Close()

	hub.Publish(models.ChangeEvent{Relation: models.RelationMessages, Type: models.EventInsert,
		Record: map[string]string{"chat_id": "7"}})
	hub.Publish(models.ChangeEvent{Relation: models.RelationChats, Type: models.EventInsert,
		Record: map[string]string{"id": "12"}})
	hub.Publish(models.ChangeEvent{Relation: models.RelationMessages, Type: models.EventInsert,
		Record: map[string]string{"chat_id": "12", "id": "1"}})

	ev := receive(t, chat12)
	if ev.Record["id"] != "1" {
		t.Errorf("Expected message 1, got %+v", ev)
	}
	expectNone(t, chat12)
}

func TestHubCloseUnregisters(t *testing.T) {
	hub := startHub(t)

	s := hub.Subscribe(models.Subscription{Relation: models.RelationChats, Events: models.MaskAll})
	s.Close()
	s.Close()

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("Expected closed channel after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for channel close")
	}
}

func TestHubStopClosesSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zaptest.NewLogger(t))
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	s := hub.Subscribe(models.Subscription{Relation: models.RelationChats, Events: models.MaskAll})
	cancel()
	<-stopped

	if _, ok := <-s.Events(); ok {
		t.Error("Expected closed channel after hub stopped")
	}

	late := hub.Subscribe(models.Subscription{Relation: models.RelationChats, Events: models.MaskAll})
	if _, ok := <-late.Events(); ok {
		t.Error("Expected closed channel when subscribing to a stopped hub")
	}
}

func TestHubSinks(t *testing.T) {
	hub := startHub(t)

	got := make(chan models.ChangeEvent, 1)
	hub.AddSink(func(ev models.ChangeEvent) { got <- ev })

	hub.Deliver(models.ChangeEvent{Relation: models.RelationChats, Type: models.EventUpdate})
	hub.Publish(models.ChangeEvent{Relation: models.RelationChats, Type: models.EventInsert})

	ev := <-got
	if ev.Type != models.EventInsert {
		t.Errorf("Expected only the published event to reach sinks, got %s", ev.Type)
	}
}

func TestObservePublishesChanges(t *testing.T) {
	hub := startHub(t)
	base, err := sqlstore.New("sqlite3", ":memory:", zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer base.Close()
	s := Observe(base, hub)
	ctx := context.Background()

	user, _ := s.CreateUser(ctx, "user1", "")

	members := hub.Subscribe(models.Subscription{
		Relation: models.RelationChatMembers,
		Events:   models.MaskAll,
		Filter:   &models.Filter{Column: "user_id", Value: id(user.ID)},
	})
	defer members.Close()
	chats := hub.Subscribe(models.Subscription{Relation: models.RelationChats, Events: models.MaskInsert | models.MaskDelete})
	defer chats.Close()

	chat, _ := s.CreateChat(ctx, "Test Chat")
	ev := receive(t, chats)
	if ev.Type != models.EventInsert || ev.Record["id"] != id(chat.ID) {
		t.Errorf("Unexpected chat event %+v", ev)
	}
	// Any user may follow chats, so names stay out of the record
	if name, ok := ev.Record["name"]; ok {
		t.Errorf("Expected no chat name in the event, got %q", name)
	}
	if err := s.AddMembers(ctx, chat.ID, user.ID); err != nil {
		t.Fatal(err)
	}
	if ev := receive(t, members); ev.Type != models.EventInsert || ev.Record["chat_id"] != id(chat.ID) {
		t.Errorf("Unexpected membership event %+v", ev)
	}

	// Failed writes publish nothing
	if err := s.AddMembers(ctx, chat.ID, user.ID); err == nil {
		t.Fatal("Expected conflict for duplicate membership")
	}
	expectNone(t, members)

	if err := s.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatal(err)
	}
	if ev := receive(t, members); ev.Type != models.EventDelete {
		t.Errorf("Expected membership DELETE, got %s", ev.Type)
	}
	if ev := receive(t, chats); ev.Record["id"] != id(chat.ID) {
		t.Errorf("Expected chat DELETE for %d, got %+v", chat.ID, ev)
	}
}

func TestSubscriptionQueryRoundTrip(t *testing.T) {
	sub := models.Subscription{
		Relation: models.RelationMessages,
		Events:   models.MaskInsert | models.MaskDelete,
		Filter:   &models.Filter{Column: "chat_id", Value: "3"},
	}
	got, err := ParseSubscription(EncodeSubscription(sub))
	if err != nil {
		t.Fatal(err)
	}
	if got.Relation != sub.Relation || got.Events != sub.Events || *got.Filter != *sub.Filter {
		t.Errorf("Expected %+v, got %+v", sub, got)
	}

	q := EncodeSubscription(sub)
	q.Set("relation", "secrets")
	if _, err := ParseSubscription(q); err == nil {
		t.Error("Expected error for unknown relation")
	}
}
