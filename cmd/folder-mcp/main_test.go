package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServeRelaysListFoldersToControlPlane(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/folders" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{{"path": "/tmp/a"}})
	}))
	defer server.Close()

	client := &controlPlaneClient{baseURL: server.URL, http: server.Client()}

	var out bytes.Buffer
	serve(strings.NewReader(`{"method":"listFolders"}`+"\n"), &out, client)

	var resp response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Result == nil {
		t.Fatal("expected a non-nil result")
	}
}

func TestServeReportsUnknownMethod(t *testing.T) {
	client := &controlPlaneClient{baseURL: "http://127.0.0.1:1", http: http.DefaultClient}

	var out bytes.Buffer
	serve(strings.NewReader(`{"method":"bogus"}`+"\n"), &out, client)

	var resp response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == "" {
		t.Fatal("expected an error for an unknown method")
	}
}

func TestServeReportsInvalidJSON(t *testing.T) {
	client := &controlPlaneClient{baseURL: "http://127.0.0.1:1", http: http.DefaultClient}

	var out bytes.Buffer
	serve(strings.NewReader("not json\n"), &out, client)

	var resp response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == "" {
		t.Fatal("expected an error for invalid JSON input")
	}
}
