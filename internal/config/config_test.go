package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ROUTER_SIMILARITY_THRESHOLD", "")
	t.Setenv("STATS_CHUNK_CHARS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SimilarityThreshold != 0.05 {
		t.Fatalf("expected default similarity threshold 0.05, got %v", cfg.SimilarityThreshold)
	}
	if cfg.StatsChunkChars != 80000 {
		t.Fatalf("expected default stats chunk chars 80000, got %d", cfg.StatsChunkChars)
	}
	if cfg.TopK.CRF != 50 || cfg.TopK.RecentFloor != 100 {
		t.Fatalf("unexpected default top-k: %+v", cfg.TopK)
	}
	if len(cfg.Hospitals) != 0 {
		t.Fatalf("expected no hospitals without overlay, got %d", len(cfg.Hospitals))
	}
}

func TestLoadParsesEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ROUTER_SIMILARITY_THRESHOLD", "0.1")
	t.Setenv("API_RATE_LIMIT_BURST", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SimilarityThreshold != 0.1 {
		t.Fatalf("expected similarity threshold override, got %v", cfg.SimilarityThreshold)
	}
	if cfg.APIRateLimitBurst != 5 {
		t.Fatalf("expected rate limit burst 5, got %d", cfg.APIRateLimitBurst)
	}
}

func TestLoadAppliesOverlayOnTopOfEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
hospitals:
  - name: 세브란스
    code: "01"
  - name: 분당차
    code: "02"
topk:
  crf: 80
routing:
  similarity_threshold: 0.08
issue_base_url: https://tracker.internal.example
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("ROUTER_SIMILARITY_THRESHOLD", "0.2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Hospitals) != 2 || cfg.Hospitals[0].Code != "01" {
		t.Fatalf("unexpected hospitals: %+v", cfg.Hospitals)
	}
	if cfg.TopK.CRF != 80 {
		t.Fatalf("expected overlay crf top-k 80, got %d", cfg.TopK.CRF)
	}
	if cfg.TopK.General != 10 {
		t.Fatalf("expected untouched general top-k 10, got %d", cfg.TopK.General)
	}
	if cfg.SimilarityThreshold != 0.08 {
		t.Fatalf("expected overlay threshold to win over env, got %v", cfg.SimilarityThreshold)
	}
	if cfg.IssueBaseURL != "https://tracker.internal.example" {
		t.Fatalf("unexpected issue base url %q", cfg.IssueBaseURL)
	}
}

func TestLoadRejectsMissingOverlay(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing overlay file")
	}
}
