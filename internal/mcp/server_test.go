package mcp

import "testing"

func TestNewServerRequiresSearcher(t *testing.T) {
	_, err := NewServer(nil)
	if err == nil {
		t.Error("expected error when search service is nil")
	}
}

func TestNewServerSuccess(t *testing.T) {
	server, err := NewServer(&fakeSearcher{})
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	if server == nil {
		t.Error("expected non-nil server")
	}
}
