package schedstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pygame-community/snakecore-jobs/schedstore"
)

func TestMemoryStore_SaveLoadRoundTrip(t *testing.T) {
	s := schedstore.NewMemoryStore()
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, "mgr-1", []byte(`{"identifiers":[]}`)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	blob, err := s.LoadSnapshot(ctx, "mgr-1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if string(blob) != `{"identifiers":[]}` {
		t.Fatalf("unexpected payload: %s", blob)
	}
}

func TestMemoryStore_LoadMissing(t *testing.T) {
	s := schedstore.NewMemoryStore()
	_, err := s.LoadSnapshot(context.Background(), "nope")
	if !errors.Is(err, schedstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SaveOverwrites(t *testing.T) {
	s := schedstore.NewMemoryStore()
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, "mgr-1", []byte("v1")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.SaveSnapshot(ctx, "mgr-1", []byte("v2")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	blob, err := s.LoadSnapshot(ctx, "mgr-1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if string(blob) != "v2" {
		t.Fatalf("expected v2, got %s", blob)
	}
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	s := schedstore.NewMemoryStore()
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, "mgr-1", []byte("v1")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.DeleteSnapshot(ctx, "mgr-1"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if err := s.DeleteSnapshot(ctx, "mgr-1"); err != nil {
		t.Fatalf("second DeleteSnapshot: %v", err)
	}
	if _, err := s.LoadSnapshot(ctx, "mgr-1"); !errors.Is(err, schedstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := schedstore.NewMemoryStore()
	ctx := context.Background()

	src := []byte("original")
	if err := s.SaveSnapshot(ctx, "mgr-1", src); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	src[0] = 'X'

	blob, err := s.LoadSnapshot(ctx, "mgr-1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if string(blob) != "original" {
		t.Fatalf("stored blob aliased caller memory: %s", blob)
	}
	blob[0] = 'Y'

	again, _ := s.LoadSnapshot(ctx, "mgr-1")
	if string(again) != "original" {
		t.Fatalf("loaded blob aliased store memory: %s", again)
	}
}
