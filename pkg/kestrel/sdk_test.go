package kestrel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/waylight/kestrel/internal/config"
	"github.com/waylight/kestrel/internal/types"
)

func parseHomeStep(resp *types.Response, accumulatedData map[string]any) ([]types.Yield, error) {
	return []types.Yield{{
		Kind:       types.YieldParsedData,
		ParsedData: &types.ParsedData{ResultType: "Item", Data: map[string]any{"url": resp.URL}, Valid: true},
	}}, nil
}

func TestOpenRunShutdownEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer srv.Close()

	s := NewScraper("test-scraper", "0.0.1")
	if err := s.Step(StepMetadata{Name: "parse_home"}, parseHomeStep, []string{"response", "accumulated_data"}); err != nil {
		t.Fatalf("registering step: %v", err)
	}
	seedURL := srv.URL
	s.Entry("seed_home", func(params map[string]any) (*types.Request, error) {
		return &types.Request{URL: seedURL, Continuation: "parse_home"}, nil
	})

	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "kestrel.db")
	cfg.Scheduler.NumWorkers = 1
	cfg.Scheduler.DrainPollEvery = 10 * time.Millisecond

	driver, err := Open(context.Background(), s, Options{Config: cfg, ArchiveDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := driver.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := driver.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
