package jobstore

import (
	"testing"
	"time"

	"github.com/cartomix/opus/internal/domain"
)

func TestSessionStorePutGetRoundTrip(t *testing.T) {
	store := NewSessionStore(NewMemStore())
	sess := &domain.Session{ID: "abc123", Status: domain.StatusProcessing, Phase: domain.PhaseRendering}

	if err := store.Put(sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok, err := store.Get("abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.Status != domain.StatusProcessing || got.Phase != domain.PhaseRendering {
		t.Errorf("expected round-tripped state, got %+v", got)
	}
}

func TestSessionStoreGetMissingReturnsNotOK(t *testing.T) {
	store := NewSessionStore(NewMemStore())
	_, ok, err := store.Get("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected not-found for an unknown session id")
	}
}

func TestSessionStoreDeleteRemovesRecord(t *testing.T) {
	store := NewSessionStore(NewMemStore())
	sess := &domain.Session{ID: "xyz", Status: domain.StatusReady}
	if err := store.Put(sess); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("xyz"); err != nil {
		t.Fatal(err)
	}
	_, ok, _ := store.Get("xyz")
	if ok {
		t.Error("expected session to be gone after delete")
	}
}

func TestMemStoreExpiresAfterTTL(t *testing.T) {
	m := NewMemStore()
	if err := m.Put("k", []byte("v"), -time.Second); err != nil {
		t.Fatal(err)
	}
	_, ok, err := m.Get("k")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected an already-expired entry to be absent")
	}
}

func TestSessionStoreKnownIDsReflectsLiveMemStoreEntries(t *testing.T) {
	store := NewSessionStore(NewMemStore())
	if err := store.Put(&domain.Session{ID: "live"}); err != nil {
		t.Fatal(err)
	}
	known := store.KnownIDs()
	if !known["live"] {
		t.Errorf("expected 'live' in known ids, got %v", known)
	}
}
