package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "papers.db")})
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	if _, ok := s.(*SQLite); !ok {
		t.Errorf("Open(sqlite) = %T, want *SQLite", s)
	}
	_ = s.Close()

	s, err = Open(ctx, Config{SupabaseURL: "https://x.supabase.co", SupabaseKey: "key"})
	if err != nil {
		t.Fatalf("Open(default) error = %v", err)
	}
	if _, ok := s.(*Supabase); !ok {
		t.Errorf("Open(default) = %T, want *Supabase", s)
	}
	_ = s.Close()

	if _, err := Open(ctx, Config{Driver: "mongodb"}); err == nil {
		t.Error("Open(mongodb) expected error for unknown driver")
	}
}
