package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func gzipBody(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(baseURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	})
}

func TestClient_FetchManifest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/latest.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"partitions":[{"date":"2026-08-19","url":"partitions/raw_matches_2026-08-19.json.gz"}]}`))
	}))
	defer srv.Close()

	manifest, err := newTestClient(srv.URL).FetchManifest(context.Background())
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if len(manifest.Partitions) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(manifest.Partitions))
	}
	if manifest.Partitions[0].Date != "2026-08-19" {
		t.Fatalf("unexpected partition date %q", manifest.Partitions[0].Date)
	}
}

func TestClient_FetchPartitionDecompresses(t *testing.T) {
	t.Parallel()

	payload := []byte(`[{"match":{"match_id":"m1","match_date":"2026-08-19","team_won":1,"win_type":"elimination","state":"scored"},"players":[{"token_id":7,"name":"Glimmer","class":"Striker","team":1,"is_champion":true}],"performances":[{"token_id":7,"eliminations":3,"deposits":2,"wart_distance":14.5}]}]`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(gzipBody(t, payload))
	}))
	defer srv.Close()

	envelopes, err := newTestClient(srv.URL).FetchPartition(context.Background(), "partitions/raw_matches_2026-08-19.json.gz")
	if err != nil {
		t.Fatalf("FetchPartition: %v", err)
	}
	if len(envelopes) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(envelopes))
	}
	if envelopes[0].Match.MatchID != "m1" {
		t.Fatalf("unexpected match id %q", envelopes[0].Match.MatchID)
	}
	if envelopes[0].Players[0].Name != "Glimmer" {
		t.Fatalf("unexpected player name %q", envelopes[0].Players[0].Name)
	}
	if envelopes[0].Match.TeamWon == nil || *envelopes[0].Match.TeamWon != 1 {
		t.Fatalf("unexpected team_won: %v", envelopes[0].Match.TeamWon)
	}
}

func TestClient_ErrorStatusIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchManifest(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if errors.Is(err, ErrParse) {
		t.Fatalf("unavailable error must not also match ErrParse")
	}

	retryAfter, ok := RetryAfter(err)
	if !ok {
		t.Fatalf("expected retry-after hint")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %s", retryAfter)
	}
}

func TestClient_UnreachableHostIsUnavailable(t *testing.T) {
	t.Parallel()

	client := NewClient(ClientConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: 200 * time.Millisecond,
	})

	_, err := client.FetchManifest(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClient_MalformedJSONIsParseError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"partitions": [`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchManifest(context.Background())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("parse error must not also match ErrUnavailable")
	}
}

func TestClient_CorruptGzipIsParseError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not gzip"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchCumulative(context.Background())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Timeout: time.Second,
	})

	// Default breaker threshold is 5 consecutive failures.
	for i := 0; i < 5; i++ {
		if _, err := client.FetchManifest(context.Background()); err == nil {
			t.Fatalf("expected failure on attempt %d", i+1)
		}
	}

	before := hits
	if _, err := client.FetchManifest(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from open circuit, got %v", err)
	}
	if hits != before {
		t.Fatalf("open circuit must not hit the remote, got %d extra requests", hits-before)
	}
}
