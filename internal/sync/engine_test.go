package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/dialog"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/timeline"
)

type fixture struct {
	bus      *bus.Bus
	timeline *timeline.Store
	presence *presence.Tracker
	dialogs  *dialog.Index
	engine   *Engine
}

func newFixture() *fixture {
	b := bus.New()
	f := &fixture{
		bus:      b,
		timeline: timeline.NewStore(),
		presence: presence.NewTracker(b, time.Hour),
		dialogs:  dialog.NewIndex(b),
	}
	f.engine = NewEngine(f.timeline, f.presence, f.dialogs, b, nil, nil)
	return f
}

func (f *fixture) events(namespace string) *[]bus.Event {
	var got []bus.Event
	f.bus.Handle(namespace, func(evt bus.Event) { got = append(got, evt) })
	return &got
}

func messageFrame(t *testing.T, wm frame.WireMessage) frame.Frame {
	t.Helper()
	raw, err := json.Marshal(wm)
	if err != nil {
		t.Fatal(err)
	}
	return frame.Frame{Type: frame.TypeMessage, Message: raw}
}

func pageIDs(p timeline.Page) []int64 {
	out := make([]int64, len(p.Messages))
	for i, m := range p.Messages {
		out[i] = m.ID
	}
	return out
}

func TestEngineIngestMessage(t *testing.T) {
	f := newFixture()
	msgs := f.events(bus.ConversationKind(42, bus.TopicMessage))
	dialogs := f.events(bus.KindDialogsChanged)

	f.engine.HandleFrame(42, messageFrame(t, frame.WireMessage{ID: 1, ChatID: 99, SenderID: 2, Text: "hello", Timestamp: 1000}))

	// Stored under the socket's conversation, not the payload's chat id.
	if _, ok := f.timeline.Get(42, 1); !ok {
		t.Fatal("message not stored under conversation 42")
	}
	if len(*msgs) != 1 {
		t.Fatalf("message events = %d, want 1", len(*msgs))
	}
	m := (*msgs)[0].Payload.(timeline.Message)
	if m.Text != "hello" || m.ConversationID != 42 {
		t.Errorf("payload = %+v", m)
	}
	if len(*dialogs) != 1 {
		t.Fatalf("dialog events = %d, want 1", len(*dialogs))
	}
	list := (*dialogs)[0].Payload.([]dialog.Summary)
	if len(list) != 1 || list[0].ID != 42 || list[0].LastMessage != "hello" {
		t.Errorf("summaries = %+v", list)
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	f := newFixture()
	msgs := f.events(bus.ConversationNamespace(1))

	wm := frame.WireMessage{ID: 5, SenderID: 2, Text: "v1", Timestamp: 1000}
	f.engine.HandleFrame(1, messageFrame(t, wm))
	f.engine.HandleFrame(1, messageFrame(t, wm))
	if len(*msgs) != 1 {
		t.Errorf("events = %d, want 1 for a duplicate", len(*msgs))
	}

	wm.Text, wm.UpdatedAt = "v2", 2000
	f.engine.HandleFrame(1, messageFrame(t, wm))
	if len(*msgs) != 2 {
		t.Fatalf("events = %d, want 2 after edit", len(*msgs))
	}
	got, _ := f.timeline.Get(1, 5)
	if got.Text != "v2" || !got.Edited() {
		t.Errorf("stored = %+v", got)
	}
}

func TestEngineHistoryThenLive(t *testing.T) {
	f := newFixture()
	history := f.events(bus.ConversationKind(42, bus.TopicHistory))

	f.engine.HandleFrame(42, frame.Frame{
		Type: frame.TypeHistory,
		Messages: []frame.WireMessage{
			{ID: 1, SenderID: 2, Text: "a", Timestamp: 10},
			{ID: 2, SenderID: 3, Text: "b", Timestamp: 20},
		},
		Meta: &frame.Meta{Count: 2, HasMore: true},
	})
	f.engine.HandleFrame(42, messageFrame(t, frame.WireMessage{ID: 3, SenderID: 2, Text: "c", Timestamp: 30}))

	if got := pageIDs(f.timeline.Page(42, 0, 0)); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("page = %v, want [1 2 3]", got)
	}
	if len(*history) != 1 {
		t.Fatalf("history events = %d, want 1", len(*history))
	}
	h := (*history)[0].Payload.(History)
	if len(h.Messages) != 2 || !h.HasMore {
		t.Errorf("history payload = %+v", h)
	}
	list := f.dialogs.List()
	if len(list) != 1 || list[0].LastMessageID != 3 {
		t.Errorf("summaries = %+v", list)
	}
}

func TestEngineDuplicateHistoryPublishesNothing(t *testing.T) {
	f := newFixture()
	history := f.events(bus.ConversationKind(1, bus.TopicHistory))
	msgs := []timeline.Message{{ID: 1, Text: "a", Timestamp: 10}}

	if got := f.engine.IngestHistory(1, msgs, false); len(got) != 1 {
		t.Fatalf("applied = %d, want 1", len(got))
	}
	if got := f.engine.IngestHistory(1, msgs, false); len(got) != 0 {
		t.Fatalf("applied = %d, want 0", len(got))
	}
	if len(*history) != 1 {
		t.Errorf("history events = %d, want 1", len(*history))
	}
}

func TestEngineDeleteAndReadReceipt(t *testing.T) {
	f := newFixture()
	f.engine.IngestMessage(1, timeline.Message{ID: 7, SenderID: 2, Text: "x", Timestamp: 10})

	f.engine.HandleFrame(1, frame.Frame{Type: frame.TypeReadReceipt, MessageID: 7, UserID: 9})
	f.engine.HandleFrame(1, frame.Frame{Type: frame.TypeMessageDelete, MessageID: 7})
	f.engine.HandleFrame(1, frame.Frame{Type: frame.TypeMessageDelete, MessageID: 404})

	got, _ := f.timeline.Get(1, 7)
	if !got.Deleted {
		t.Error("message not deleted")
	}
	if len(got.ReadBy) != 1 || got.ReadBy[0] != 9 {
		t.Errorf("ReadBy = %v, want [9]", got.ReadBy)
	}
	if f.timeline.Len(1) != 1 {
		t.Errorf("Len = %d, want 1", f.timeline.Len(1))
	}
}

func TestEngineTypingAndRoom(t *testing.T) {
	f := newFixture()
	room := f.events(bus.ConversationKind(1, bus.TopicRoom))

	f.engine.HandleFrame(1, frame.Frame{Type: frame.TypeTyping, UserID: 4, Username: "ana", Message: json.RawMessage(`"true"`)})
	if users := f.presence.Users(1); len(users) != 1 || users[0].Name != "ana" {
		t.Fatalf("typing users = %+v", users)
	}

	f.engine.HandleFrame(1, frame.Frame{Type: frame.TypeUserLeft, UserID: 4, Username: "ana"})
	if users := f.presence.Users(1); len(users) != 0 {
		t.Errorf("typing users after leave = %+v", users)
	}
	f.engine.HandleFrame(1, frame.Frame{Type: frame.TypeError, Message: json.RawMessage(`"Chat not found"`)})

	if len(*room) != 2 {
		t.Fatalf("room events = %d, want 2", len(*room))
	}
	if evt := (*room)[1].Payload.(RoomEvent); evt.Type != frame.TypeError || evt.Text != "Chat not found" {
		t.Errorf("room event = %+v", evt)
	}
}

func TestEngineAck(t *testing.T) {
	f := newFixture()
	acks := f.events(bus.ConversationKind(1, bus.TopicAck))
	f.engine.HandleFrame(1, frame.Frame{Type: frame.TypeMessageSent, MessageID: 11, Timestamp: 500})
	if len(*acks) != 1 {
		t.Fatalf("ack events = %d, want 1", len(*acks))
	}
	if a := (*acks)[0].Payload.(Ack); a.MessageID != 11 || a.Timestamp != 500 {
		t.Errorf("ack = %+v", a)
	}
}

func TestToMessage(t *testing.T) {
	tests := []struct {
		name   string
		in     frame.WireMessage
		edited int64
		sender int64
	}{
		{"plain", frame.WireMessage{ID: 1, SenderID: 2, Timestamp: 100}, 0, 2},
		{"updated equals created", frame.WireMessage{ID: 1, SenderID: 2, Timestamp: 100, UpdatedAt: 100}, 0, 2},
		{"edited", frame.WireMessage{ID: 1, SenderID: 2, Timestamp: 100, UpdatedAt: 150}, 150, 2},
		{"sender object", frame.WireMessage{ID: 1, Timestamp: 100, Sender: &frame.Sender{ID: 8}}, 0, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ToMessage(tt.in)
			if m.EditedAt != tt.edited {
				t.Errorf("EditedAt = %d, want %d", m.EditedAt, tt.edited)
			}
			if m.SenderID != tt.sender {
				t.Errorf("SenderID = %d, want %d", m.SenderID, tt.sender)
			}
		})
	}
}

type fakeHistory struct {
	pages   map[string]rest.MessagesPage
	cursors []string
	err     error
}

func (h *fakeHistory) ChatMessages(_ context.Context, _ int64, cursor string, _ int, _ rest.Direction) (rest.MessagesPage, error) {
	h.cursors = append(h.cursors, cursor)
	if h.err != nil {
		return rest.MessagesPage{}, h.err
	}
	return h.pages[cursor], nil
}

type recordCheckpoints map[string]string

func (r recordCheckpoints) UpdateCheckpoint(key, value string) error {
	r[key] = value
	return nil
}

func TestReconcilerFetchAndLoadOlder(t *testing.T) {
	f := newFixture()
	src := &fakeHistory{pages: map[string]rest.MessagesPage{
		"": {
			Data:       []rest.Message{{ID: 3, Text: "c", CreatedAt: 30}, {ID: 4, Text: "d", CreatedAt: 40}},
			Pagination: rest.Pagination{NextCursor: "c1", HasNext: true},
		},
		"c1": {
			Data: []rest.Message{{ID: 1, Text: "a", CreatedAt: 10}, {ID: 2, Text: "b", CreatedAt: 20}},
		},
	}}
	cp := recordCheckpoints{}
	r := NewReconciler(src, f.engine, 2, cp, nil)
	ctx := context.Background()

	// A live message that arrived before the fetch survives it.
	f.engine.IngestMessage(5, timeline.Message{ID: 5, Text: "live", Timestamp: 50})

	if _, err := r.FetchHistory(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if cp[cursorKey(5)] != "c1" {
		t.Errorf("checkpoint = %q, want c1", cp[cursorKey(5)])
	}
	applied, more, err := r.LoadOlder(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 || more {
		t.Errorf("LoadOlder = %d applied, more=%v", len(applied), more)
	}
	if _, more, _ := r.LoadOlder(ctx, 5); more {
		t.Error("LoadOlder past the oldest page reported more")
	}
	if got := pageIDs(f.timeline.Page(5, 0, 0)); len(got) != 5 {
		t.Errorf("page = %v, want 5 messages", got)
	}

	// A reconnect refetches the newest page without moving the cursor back.
	if _, err := r.FetchHistory(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if cp[cursorKey(5)] != "" {
		t.Errorf("checkpoint = %q, want exhausted", cp[cursorKey(5)])
	}
	if want := []string{"", "c1", ""}; len(src.cursors) != len(want) {
		t.Errorf("requested cursors = %q, want %q", src.cursors, want)
	}
}

func TestReconcilerFetchError(t *testing.T) {
	f := newFixture()
	src := &fakeHistory{err: rest.ErrUnauthorized}
	r := NewReconciler(src, f.engine, 0, nil, nil)
	if _, err := r.FetchHistory(context.Background(), 1); !errors.Is(err, rest.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if f.timeline.Len(1) != 0 {
		t.Error("timeline changed on error")
	}
}
