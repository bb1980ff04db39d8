package storage

import (
	"context"
	"strings"
	"testing"
)

func TestFileStorePutAndRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	obj, err := store.Put(context.Background(), []byte("png-bytes"), "image/png", "generated")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(obj.Key, "generated/") {
		t.Fatalf("key missing prefix: %s", obj.Key)
	}
	if !strings.HasSuffix(obj.Key, ".png") {
		t.Fatalf("key missing extension: %s", obj.Key)
	}
	if obj.URL != "http://localhost:8080/static/"+obj.Key {
		t.Fatalf("url mismatch: %s", obj.URL)
	}

	data, err := store.Read(context.Background(), obj.Key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("content mismatch: %q", data)
	}
}

func TestFileStorePutRejectsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Put(context.Background(), nil, "image/png", "generated"); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestFileStoreReadRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Read(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatal("expected error for traversal key")
	}
}
