package memory

import (
	"context"
	"testing"
	"time"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/domain/repositories"
)

func TestSessionRoundTrip(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()

	session := entities.NewConversationSession("First")
	session.AddMessage(entities.NewTextMessage(entities.SenderUser, "hello"))

	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != "First" || len(got.Messages) != 1 {
		t.Errorf("Unexpected session: %+v", got)
	}

	// Stored data is isolated from the caller's copy.
	got.Messages[0].Content = "tampered"
	fresh, _ := repo.GetByID(ctx, session.ID)
	if fresh.Messages[0].Content != "hello" {
		t.Error("Repository should store a copy, not share pointers")
	}
}

func TestGetUnknownSession(t *testing.T) {
	repo := NewSessionRepository()

	_, err := repo.GetByID(context.Background(), "nope")
	if err != repositories.ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	if err := repo.Update(context.Background(), entities.NewConversationSession("x")); err != repositories.ErrSessionNotFound {
		t.Errorf("Update of unknown session should fail, got %v", err)
	}
}

func TestGetRecentOrdering(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()

	older := entities.NewConversationSession("older")
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := entities.NewConversationSession("newer")

	repo.Create(ctx, older)
	repo.Create(ctx, newer)

	recent, err := repo.GetRecent(ctx, 1)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Title != "newer" {
		t.Errorf("Expected the newest session first, got %+v", recent)
	}
}

func TestDeleteSession(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()

	session := entities.NewConversationSession("doomed")
	repo.Create(ctx, session)

	if err := repo.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, session.ID); err != repositories.ErrSessionNotFound {
		t.Errorf("Deleted session should be gone, got %v", err)
	}
	if err := repo.Delete(ctx, session.ID); err != repositories.ErrSessionNotFound {
		t.Errorf("Double delete should fail, got %v", err)
	}
}
