package keymanager

import (
	"testing"
	"time"
)

func TestMemoryStoreFindBySecret(t *testing.T) {
	s := NewMemoryStore()
	key := &ApiKey{ID: "id-1", Service: "svc", Secret: "s3cr3t", IsActive: true, CreatedAt: time.Now()}
	if err := s.Put(key); err != nil {
		t.Fatalf("put: %v", err)
	}

	found, ok := s.FindBySecret("s3cr3t")
	if !ok || found.ID != "id-1" {
		t.Fatalf("expected to find key by secret, got ok=%v found=%v", ok, found)
	}

	if _, ok := s.FindBySecret("wrong"); ok {
		t.Fatal("expected no match for an unknown secret")
	}
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	key := &ApiKey{ID: "id-2", Service: "svc", Secret: "abc123", IsActive: true, CreatedAt: time.Now()}
	if err := s1.Put(key); err != nil {
		t.Fatalf("put: %v", err)
	}

	s2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reload file store: %v", err)
	}
	reloaded, ok := s2.Get("id-2")
	if !ok {
		t.Fatal("expected key to survive reload")
	}
	if reloaded.Secret != "abc123" {
		t.Fatalf("expected secret preserved, got %q", reloaded.Secret)
	}
}

func TestFileStoreDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	key := &ApiKey{ID: "id-3", Service: "svc", Secret: "xyz", IsActive: true, CreatedAt: time.Now()}
	s.Put(key)
	s.Delete("id-3")

	if _, ok := s.Get("id-3"); ok {
		t.Fatal("expected key gone after delete")
	}
}
