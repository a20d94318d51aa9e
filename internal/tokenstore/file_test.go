package tokenstore_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/florianilch/mediadeck/internal/tokenstore"
)

func TestFileStoreWritesSecureJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	s, err := tokenstore.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := s.SetPair(context.Background(), tokenstore.Pair{Access: "a1", Refresh: "r1"}); err != nil {
		t.Fatalf("SetPair() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %04o, want 0600", perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("file is not JSON: %v", err)
	}
	if raw["token"] != "a1" || raw["refresh_token"] != "r1" {
		t.Errorf("file contents = %v, want token/refresh_token keys", raw)
	}

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestFileStoreRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(path, []byte(`{"token":"a","refresh_token":"r"}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := tokenstore.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	_, err = s.Access(context.Background())
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("Access() error = %v, want insecure permissions error", err)
	}
}

func TestFileStoreRejectsPartialPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(path, []byte(`{"token":"a"}`), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := tokenstore.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, err := s.Access(context.Background()); err == nil {
		t.Error("Access() error = nil, want error for partial pair")
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	if _, err := tokenstore.NewFileStore(""); err == nil {
		t.Error("NewFileStore(\"\") error = nil, want error")
	}
}
