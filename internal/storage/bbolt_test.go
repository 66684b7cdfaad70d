package storage

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"mutuals/internal/auth"
	"mutuals/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustProfile(t *testing.T, store *BboltStorage, id, username string) models.Profile {
	t.Helper()
	profile, err := store.EnsureProfile(models.User{ID: id, UserName: username, Status: models.UserStatusActive})
	if err != nil {
		t.Fatalf("EnsureProfile(%s) failed: %v", id, err)
	}
	return profile
}

func TestStorage_Profiles(t *testing.T) {
	store := newTestStorage(t)

	p1 := mustProfile(t, store, "u1", "alice")
	if p1.UserName != "alice" {
		t.Errorf("expected username alice, got %s", p1.UserName)
	}

	// EnsureProfile is idempotent.
	p2 := mustProfile(t, store, "u1", "alice")
	if p2.CreatedAt != p1.CreatedAt {
		t.Errorf("expected same profile on second ensure, got createdAt %d != %d", p2.CreatedAt, p1.CreatedAt)
	}

	mustProfile(t, store, "u2", "bob")
	profiles, err := store.ListProfiles()
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Errorf("expected 2 profiles, got %d", len(profiles))
	}

	if _, err := store.GetProfile("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing profile, got %v", err)
	}
}

func TestStorage_Requests(t *testing.T) {
	store := newTestStorage(t)
	mustProfile(t, store, "u1", "alice")
	mustProfile(t, store, "u2", "bob")

	t.Run("Create", func(t *testing.T) {
		request, err := store.CreateRequest("u1", "u2")
		if err != nil {
			t.Fatalf("CreateRequest failed: %v", err)
		}
		if request.Status != models.RequestStatusPending {
			t.Errorf("expected pending, got %s", request.Status)
		}

		// Duplicate submission is rejected, not merged.
		if _, err := store.CreateRequest("u1", "u2"); !errors.Is(err, models.ErrDuplicateRequest) {
			t.Errorf("expected ErrDuplicateRequest, got %v", err)
		}

		// The reverse direction is a different ordered pair.
		if _, err := store.CreateRequest("u2", "u1"); err != nil {
			t.Errorf("reverse request failed: %v", err)
		}

		if _, err := store.CreateRequest("u1", "missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown receiver, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		mustProfile(t, store, "u3", "carol")
		requests, err := store.ListRequests("u1")
		if err != nil {
			t.Fatalf("ListRequests failed: %v", err)
		}
		if len(requests) != 2 {
			t.Errorf("expected 2 requests for u1, got %d", len(requests))
		}

		requests, err = store.ListRequests("u3")
		if err != nil {
			t.Fatalf("ListRequests failed: %v", err)
		}
		if len(requests) != 0 {
			t.Errorf("expected no requests for u3, got %d", len(requests))
		}
	})
}

func TestStorage_Respond(t *testing.T) {
	store := newTestStorage(t)
	mustProfile(t, store, "u1", "alice")
	mustProfile(t, store, "u2", "bob")

	request, err := store.CreateRequest("u1", "u2")
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	if _, err := store.RespondRequest("missing", "u2", models.RequestStatusAccepted); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Only the receiver may respond.
	if _, err := store.RespondRequest(request.ID, "u1", models.RequestStatusAccepted); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden for sender response, got %v", err)
	}

	decided, err := store.RespondRequest(request.ID, "u2", models.RequestStatusAccepted)
	if err != nil {
		t.Fatalf("RespondRequest failed: %v", err)
	}
	if decided.Status != models.RequestStatusAccepted {
		t.Errorf("expected accepted, got %s", decided.Status)
	}

	// Accepting updates both consent sets atomically.
	p1, _ := store.GetProfile("u1")
	p2, _ := store.GetProfile("u2")
	if !slices.Contains(p1.MutualLikes, "u2") {
		t.Error("u2 missing from u1's mutual likes")
	}
	if !slices.Contains(p2.MutualLikes, "u1") {
		t.Error("u1 missing from u2's mutual likes")
	}

	// A decided request cannot be decided again.
	if _, err := store.RespondRequest(request.ID, "u2", models.RequestStatusRejected); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("expected ErrForbidden for re-response, got %v", err)
	}
	p1, _ = store.GetProfile("u1")
	if !slices.Contains(p1.MutualLikes, "u2") {
		t.Error("consent set changed by rejected re-response")
	}
}

func TestStorage_RespondRejected(t *testing.T) {
	store := newTestStorage(t)
	mustProfile(t, store, "u1", "alice")
	mustProfile(t, store, "u2", "bob")

	request, err := store.CreateRequest("u1", "u2")
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	decided, err := store.RespondRequest(request.ID, "u2", models.RequestStatusRejected)
	if err != nil {
		t.Fatalf("RespondRequest failed: %v", err)
	}
	if decided.Status != models.RequestStatusRejected {
		t.Errorf("expected rejected, got %s", decided.Status)
	}

	// Rejection never touches consent sets.
	p1, _ := store.GetProfile("u1")
	p2, _ := store.GetProfile("u2")
	if len(p1.MutualLikes) != 0 || len(p2.MutualLikes) != 0 {
		t.Error("rejection must not create consent")
	}
}

func TestStorage_Messages(t *testing.T) {
	store := newTestStorage(t)
	mustProfile(t, store, "u1", "alice")
	mustProfile(t, store, "u2", "bob")
	mustProfile(t, store, "u3", "carol")

	// Not mutual yet: message creation is gated.
	if _, err := store.CreateMessage("u1", "u2", "too early"); !errors.Is(err, models.ErrNotMutual) {
		t.Errorf("expected ErrNotMutual, got %v", err)
	}

	request, err := store.CreateRequest("u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.RespondRequest(request.ID, "u2", models.RequestStatusAccepted); err != nil {
		t.Fatal(err)
	}

	msg, err := store.CreateMessage("u1", "u2", "hi")
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if msg.IsRead {
		t.Error("new message must be unread")
	}

	// Consent is directional data but symmetric in effect: the accepted pair
	// can message both ways, an outsider cannot.
	if _, err := store.CreateMessage("u2", "u1", "hi back"); err != nil {
		t.Errorf("reply failed: %v", err)
	}
	if _, err := store.CreateMessage("u3", "u2", "let me in"); !errors.Is(err, models.ErrNotMutual) {
		t.Errorf("expected ErrNotMutual for outsider, got %v", err)
	}

	t.Run("ListChronological", func(t *testing.T) {
		messages, err := store.ListMessages("u1")
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(messages))
		}
		if messages[0].Content != "hi" || messages[1].Content != "hi back" {
			t.Errorf("messages out of order: %q, %q", messages[0].Content, messages[1].Content)
		}
	})

	t.Run("MarkRead", func(t *testing.T) {
		// Only the receiver may mark a message read.
		if _, err := store.MarkMessageRead(msg.ID, "u1"); !errors.Is(err, models.ErrForbidden) {
			t.Errorf("expected ErrForbidden for sender markRead, got %v", err)
		}
		if _, err := store.MarkMessageRead("missing", "u2"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		read, err := store.MarkMessageRead(msg.ID, "u2")
		if err != nil {
			t.Fatalf("MarkMessageRead failed: %v", err)
		}
		if !read.IsRead {
			t.Error("message not marked read")
		}

		// Idempotent: re-marking is a no-op success.
		read, err = store.MarkMessageRead(msg.ID, "u2")
		if err != nil {
			t.Fatalf("second MarkMessageRead failed: %v", err)
		}
		if !read.IsRead {
			t.Error("message lost read flag on second mark")
		}
	})

	t.Run("UnreadCount", func(t *testing.T) {
		// u1 still has u2's unread reply, u2 has nothing unread left.
		count, err := store.UnreadCount("u1")
		if err != nil {
			t.Fatalf("UnreadCount failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 unread for u1, got %d", count)
		}

		count, err = store.UnreadCount("u2")
		if err != nil {
			t.Fatalf("UnreadCount failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 unread for u2, got %d", count)
		}
	})
}

func TestStorage_CredentialsAndTokens(t *testing.T) {
	store := newTestStorage(t)

	creds := auth.UserCredentials{
		User: models.User{
			ID:       "u1",
			UserName: "alice",
			Status:   models.UserStatusActive,
		},
		PasswordHash: "hash",
	}
	if err := store.UpsertCredentials(creds); err != nil {
		t.Fatalf("UpsertCredentials failed: %v", err)
	}

	list, err := store.ListCredentials()
	if err != nil {
		t.Fatalf("ListCredentials failed: %v", err)
	}
	if len(list) != 1 || list[0].UserName != "alice" || list[0].PasswordHash != "hash" {
		t.Errorf("unexpected credentials: %+v", list)
	}

	if err := store.UpsertToken("u1", "token_hash_123"); err != nil {
		t.Fatalf("UpsertToken failed: %v", err)
	}
	tokens, err := store.ListTokens()
	if err != nil {
		t.Fatalf("ListTokens failed: %v", err)
	}
	if tokens["token_hash_123"] != "u1" {
		t.Errorf("expected u1 for token, got %s", tokens["token_hash_123"])
	}

	if err := store.DeleteToken("token_hash_123"); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	tokens, _ = store.ListTokens()
	if _, ok := tokens["token_hash_123"]; ok {
		t.Error("expected token to be deleted")
	}
}
