package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostClear(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/v1/cache/disk/clear" {
			http.Error(w, "purge failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newDaemonClient()
	client.RetryMax = 0

	if err := postClear(client, srv.URL, "memory"); err != nil {
		t.Errorf("memory clear failed: %v", err)
	}
	err := postClear(client, srv.URL, "disk")
	if err == nil || errors.Is(err, errDaemonDown) {
		t.Errorf("Expected a refusal error, got %v", err)
	}
	if len(paths) < 2 || paths[0] != "/api/v1/cache/memory/clear" {
		t.Errorf("Unexpected requests %v", paths)
	}
}

func TestPostClear_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := newDaemonClient()
	client.RetryMax = 0

	if err := postClear(client, addr, "memory"); !errors.Is(err, errDaemonDown) {
		t.Errorf("Expected errDaemonDown, got %v", err)
	}
}
