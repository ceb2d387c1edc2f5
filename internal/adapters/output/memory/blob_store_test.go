package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"agent-bridge/internal/domain"
)

// TestBlobStore_PutGet tests round trips and that stored bytes are isolated from callers
func TestBlobStore_PutGet(t *testing.T) {
	store := NewBlobStore()
	ctx := context.Background()
	data := []byte("hello")

	if err := store.Put(ctx, "app/u1/s1/a.txt/1", domain.Blob{Data: data, ContentType: "text/plain"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	data[0] = 'j'

	blob, err := store.Get(ctx, "app/u1/s1/a.txt/1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(blob.Data) != "hello" || blob.ContentType != "text/plain" {
		t.Errorf("Get() = %q %q", blob.Data, blob.ContentType)
	}
	if blob.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

// TestBlobStore_GetMissing tests the not-found error
func TestBlobStore_GetMissing(t *testing.T) {
	_, err := NewBlobStore().Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// TestBlobStore_ListDelete tests prefix listing order and deletion
func TestBlobStore_ListDelete(t *testing.T) {
	store := NewBlobStore()
	ctx := context.Background()
	for _, path := range []string{"app/u1/b/1", "app/u1/a/2", "app/u10/a/1", "sessions/u1"} {
		if err := store.Put(ctx, path, domain.Blob{Data: []byte("x")}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	paths, err := store.List(ctx, "app/u1/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if want := []string{"app/u1/a/2", "app/u1/b/1"}; !reflect.DeepEqual(paths, want) {
		t.Errorf("List() = %v, want %v", paths, want)
	}

	if err := store.Delete(ctx, "app/u1/a/2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "app/u1/a/2"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
	paths, _ = store.List(ctx, "app/u1/")
	if want := []string{"app/u1/b/1"}; !reflect.DeepEqual(paths, want) {
		t.Errorf("List() after delete = %v, want %v", paths, want)
	}
}
