package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedUsesConfiguredModelAndDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "text-embedding-3-small" {
			t.Errorf("unexpected model: %s", body.Model)
		}

		data := make([]map[string]any, len(body.Input))
		for i := range body.Input {
			data[i] = map[string]any{"embedding": []float32{0.1, 0.2}, "index": i, "object": "embedding"}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data, "object": "list"})
	}))
	defer srv.Close()

	p := New(Config{Model: "text-embedding-3-small", APIKey: "test-key", BaseURL: srv.URL})
	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if p.Dimensions() != 1536 {
		t.Fatalf("expected known-model dimensions of 1536, got %d", p.Dimensions())
	}
}

func TestEmbedEmptyTextsReturnsNil(t *testing.T) {
	p := New(Config{APIKey: "test-key"})
	vectors, err := p.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vectors != nil {
		t.Fatalf("expected nil, got %v", vectors)
	}
}

func TestEmbedMismatchedResponseCountIsAContractViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"embedding": []float32{0.1}, "index": 0, "object": "embedding"},
		}, "object": "list"})
	}))
	defer srv.Close()

	p := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	if _, err := p.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected an error when the response count does not match the request count")
	}
}

func TestIDIncludesModel(t *testing.T) {
	p := New(Config{Model: "text-embedding-3-large", APIKey: "test-key"})
	if got := p.ID(); got != "openai:text-embedding-3-large" {
		t.Fatalf("unexpected ID: %s", got)
	}
}

func TestMaxChunkSizeFallsBackForUnknownModel(t *testing.T) {
	p := New(Config{Model: "some-future-model", APIKey: "test-key"})
	if got := p.MaxChunkSize(); got != 2048 {
		t.Fatalf("expected fallback max chunk size of 2048, got %d", got)
	}
}
