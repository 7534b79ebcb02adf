package config

import (
	"testing"
)

func TestValidateEmbeddingProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"ollama", false},
		{"openai", false},
		{"", true},
		{"voyage", true},
		{"OLLAMA", true}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Embedding.Provider = tt.provider
			errs := Validate(cfg)

			hasErr := false
			for _, err := range errs {
				if err != nil {
					hasErr = true
					break
				}
			}

			if hasErr != tt.wantErr {
				t.Errorf("Validate(Embedding.Provider=%q) hasErr=%v, want %v", tt.provider, hasErr, tt.wantErr)
			}
		})
	}
}

func TestValidateRemoteCacheRequiresEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteCache.Enabled = true
	cfg.RemoteCache.Endpoint = ""

	errs := Validate(cfg)
	if len(errs) == 0 {
		t.Fatal("expected validation error for enabled remote cache with no endpoint")
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("DefaultConfig().Embedding.Provider = %q, want %q", cfg.Embedding.Provider, "ollama")
	}
	if cfg.Chunking.Strategy != "simple" {
		t.Errorf("DefaultConfig().Chunking.Strategy = %q, want %q", cfg.Chunking.Strategy, "simple")
	}
	if cfg.Retrieval.PerTagSearchCap != 300 {
		t.Errorf("DefaultConfig().Retrieval.PerTagSearchCap = %d, want 300", cfg.Retrieval.PerTagSearchCap)
	}
}

func TestConfigHashStableAcrossCopies(t *testing.T) {
	cfg := DefaultConfig()
	dup := cfg.Copy()

	if cfg.Hash() != dup.Hash() {
		t.Fatal("Hash() differs between a config and its Copy()")
	}

	dup.Embedding.Model = "different-model"
	if cfg.Hash() == dup.Hash() {
		t.Fatal("Hash() did not change after modifying an embedding-affecting field")
	}
}

func TestConfigHashIgnoresRetrievalTuning(t *testing.T) {
	cfg := DefaultConfig()
	dup := cfg.Copy()
	dup.Retrieval.DefaultLimit = 50

	if cfg.Hash() != dup.Hash() {
		t.Fatal("Hash() should not depend on retrieval-time tuning parameters")
	}
}
