package presence

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

func record(b *bus.Bus, convID int64) <-chan Set {
	ch := make(chan Set, 32)
	b.Handle(bus.ConversationKind(convID, bus.TopicTyping), func(evt bus.Event) {
		ch <- evt.Payload.(Set)
	})
	return ch
}

func next(t *testing.T, ch <-chan Set, within time.Duration) Set {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(within):
		t.Fatal("timeout waiting for typing set")
		return Set{}
	}
}

func TestTypingExpires(t *testing.T) {
	b := bus.New()
	tr := NewTracker(b, 40*time.Millisecond)
	ch := record(b, 1)

	tr.Typing(1, 7, "ana", true)
	if s := next(t, ch, time.Second); len(s.Users) != 1 || s.Users[0] != (User{ID: 7, Name: "ana"}) {
		t.Fatalf("set = %+v", s)
	}
	if s := next(t, ch, time.Second); len(s.Users) != 0 {
		t.Fatalf("set after quiet period = %+v, want empty", s)
	}
	if got := tr.Users(1); len(got) != 0 {
		t.Errorf("Users = %v, want none", got)
	}
}

func TestExplicitStopClearsImmediately(t *testing.T) {
	b := bus.New()
	tr := NewTracker(b, time.Hour)
	ch := record(b, 1)

	tr.Typing(1, 7, "ana", true)
	next(t, ch, time.Second)
	tr.Typing(1, 7, "ana", false)

	// Handlers are synchronous, so the removal is already published.
	select {
	case s := <-ch:
		if len(s.Users) != 0 {
			t.Errorf("set = %+v, want empty", s)
		}
	default:
		t.Fatal("removal not published")
	}
}

func TestRefreshRearmsTimer(t *testing.T) {
	b := bus.New()
	tr := NewTracker(b, 150*time.Millisecond)
	ch := record(b, 1)

	tr.Typing(1, 7, "", true)
	s := next(t, ch, time.Second)
	if s.Users[0].Name != "User 7" {
		t.Errorf("default name = %q", s.Users[0].Name)
	}
	for range 3 {
		time.Sleep(30 * time.Millisecond)
		tr.Typing(1, 7, "", true)
	}
	// Refreshes with an unchanged name publish nothing.
	select {
	case s := <-ch:
		t.Fatalf("unexpected publish during refresh: %+v", s)
	default:
	}
	if got := tr.Users(1); len(got) != 1 {
		t.Fatalf("user expired despite refresh: %v", got)
	}
	if s := next(t, ch, time.Second); len(s.Users) != 0 {
		t.Errorf("set = %+v, want empty after final quiet period", s)
	}
}

func TestSelfIgnored(t *testing.T) {
	b := bus.New()
	tr := NewTracker(b, time.Hour)
	ch := record(b, 1)
	tr.SetSelf(7)

	tr.Typing(1, 7, "me", true)
	select {
	case s := <-ch:
		t.Fatalf("self typing published: %+v", s)
	default:
	}
	if got := tr.Users(1); len(got) != 0 {
		t.Errorf("Users = %v", got)
	}
}

func TestFullSetPublished(t *testing.T) {
	b := bus.New()
	tr := NewTracker(b, time.Hour)
	ch := record(b, 1)

	tr.Typing(1, 9, "zed", true)
	tr.Typing(1, 3, "bob", true)
	tr.Typing(2, 4, "other", true)

	next(t, ch, time.Second)
	s := next(t, ch, time.Second)
	if len(s.Users) != 2 || s.Users[0].ID != 3 || s.Users[1].ID != 9 {
		t.Errorf("set = %+v, want users 3 and 9", s)
	}
}

func TestClearConversation(t *testing.T) {
	b := bus.New()
	tr := NewTracker(b, 30*time.Millisecond)
	ch := record(b, 1)

	tr.Typing(1, 2, "a", true)
	next(t, ch, time.Second)
	tr.ClearConversation(1)
	if s := next(t, ch, time.Second); len(s.Users) != 0 {
		t.Errorf("set = %+v", s)
	}

	// The cancelled timer must not publish again.
	time.Sleep(60 * time.Millisecond)
	select {
	case s := <-ch:
		t.Errorf("publish after clear: %+v", s)
	default:
	}
}
