package fetch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/waylight/kestrel/internal/config"
	"github.com/waylight/kestrel/internal/types"
)

func newTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Fetcher.UserAgents = []string{"kestrel-test/1.0"}
	return cfg
}

func TestExecuteReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(newTestConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer f.Close()

	result, err := f.Execute(context.Background(), &types.Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if string(result.Body) != "hello" {
		t.Errorf("expected body 'hello', got %q", result.Body)
	}
	if result.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}
}

func TestExecuteClassifies500AsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(newTestConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer f.Close()

	_, err = f.Execute(context.Background(), &types.Request{URL: srv.URL})
	var te *types.TransientError
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !isTransient(err, &te) {
		t.Errorf("expected *types.TransientError, got %T: %v", err, err)
	}
}

func TestExecuteClassifies404AsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(newTestConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer f.Close()

	_, err = f.Execute(context.Background(), &types.Request{URL: srv.URL})
	var fe *types.FatalError
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !isFatal(err, &fe) {
		t.Errorf("expected *types.FatalError, got %T: %v", err, err)
	}
}

func TestExecuteClassifies408AsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(408)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(newTestConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer f.Close()

	_, err = f.Execute(context.Background(), &types.Request{URL: srv.URL})
	var te *types.TransientError
	if !isTransient(err, &te) {
		t.Errorf("expected 408 to classify as *types.TransientError, got %T: %v", err, err)
	}
}

func TestExecuteClassifies501AsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(501)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(newTestConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer f.Close()

	_, err = f.Execute(context.Background(), &types.Request{URL: srv.URL})
	var fe *types.FatalError
	if !isFatal(err, &fe) {
		t.Errorf("expected 501 to classify as *types.FatalError, got %T: %v", err, err)
	}
}

func TestExecuteRespects429RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(429)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(newTestConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer f.Close()

	_, err = f.Execute(context.Background(), &types.Request{URL: srv.URL})
	var te *types.TransientError
	if !isTransient(err, &te) {
		t.Fatalf("expected *types.TransientError, got %T: %v", err, err)
	}
	if te.RetryAfter == nil || *te.RetryAfter != 7 {
		t.Errorf("expected RetryAfter=7, got %v", te.RetryAfter)
	}
}

func isTransient(err error, target **types.TransientError) bool {
	te, ok := err.(*types.TransientError)
	if ok {
		*target = te
	}
	return ok
}

func isFatal(err error, target **types.FatalError) bool {
	fe, ok := err.(*types.FatalError)
	if ok {
		*target = fe
	}
	return ok
}
