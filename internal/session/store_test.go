package session

import (
	"testing"
	"time"
)

func TestStore_AppendAndMessages(t *testing.T) {
	s := NewStore(30*time.Minute, nil)

	s.AddUserMessage("u1", "hello")
	s.AddAssistantMessage("u1", "hi there", 42)

	msgs := s.Messages("u1")
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "hello" {
		t.Errorf("Unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "hi there" {
		t.Errorf("Unexpected second message: %+v", msgs[1])
	}
	if s.TokenCount("u1") != 42 {
		t.Errorf("Expected token count 42, got %d", s.TokenCount("u1"))
	}
}

func TestStore_InitialMessagesSeed(t *testing.T) {
	initial := []ChatMessage{{Role: RoleUser, Content: "you are a helpful assistant"}}
	s := NewStore(30*time.Minute, initial)

	// Side-effect free read for an unknown user yields the seed.
	msgs := s.Messages("new-user")
	if len(msgs) != 1 || msgs[0].Content != "you are a helpful assistant" {
		t.Fatalf("Expected seeded context, got %+v", msgs)
	}

	s.AddUserMessage("new-user", "q")
	msgs = s.Messages("new-user")
	if len(msgs) != 2 {
		t.Fatalf("Expected seed + question, got %d messages", len(msgs))
	}
}

func TestStore_ClearSession(t *testing.T) {
	s := NewStore(30*time.Minute, nil)
	s.AddUserMessage("u1", "hello")
	s.AddAssistantMessage("u1", "hi", 10)

	s.ClearSession("u1")

	if got := len(s.Messages("u1")); got != 0 {
		t.Errorf("Expected empty history after clear, got %d messages", got)
	}
	if s.TokenCount("u1") != 0 {
		t.Errorf("Expected token count reset, got %d", s.TokenCount("u1"))
	}
}

func TestStore_SweepExpired(t *testing.T) {
	current := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewStore(30*time.Minute, nil)
	s.SetClock(func() time.Time { return current })

	s.AddUserMessage("stale", "old question")
	current = current.Add(10 * time.Minute)
	s.AddUserMessage("fresh", "recent question")

	// Within the window since the last sweep: no-op even though nothing
	// would expire anyway.
	s.SweepExpired(false)
	if len(s.Messages("stale")) != 1 {
		t.Fatal("Sweep ran before the window elapsed")
	}

	// Past the window: "stale"'s last message is 40m old, "fresh"'s is 30m
	// exactly and must survive (expiry is strictly older than the window).
	current = current.Add(30 * time.Minute)
	s.SweepExpired(false)
	if len(s.Messages("stale")) != 0 {
		t.Error("Expected stale session cleared")
	}
	if len(s.Messages("fresh")) != 1 {
		t.Error("Expected fresh session kept")
	}
}

func TestStore_SweepForceAll(t *testing.T) {
	s := NewStore(30*time.Minute, nil)
	s.AddUserMessage("a", "1")
	s.AddUserMessage("b", "2")

	s.SweepExpired(true)

	if len(s.Messages("a")) != 0 || len(s.Messages("b")) != 0 {
		t.Error("Expected all sessions cleared with forceAll")
	}
}
