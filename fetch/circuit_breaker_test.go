package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedFetcher struct {
	calls atomic.Int32
	err   error
}

func (s *scriptedFetcher) Fetch(ctx context.Context, url string) (*Artifact, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &Artifact{Body: io.NopCloser(strings.NewReader(url)), Size: int64(len(url))}, nil
}

func TestHostBreakerPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("archive"))
	}))
	defer server.Close()

	hb := NewHostBreaker(NewFetcher())
	artifact, err := hb.Fetch(context.Background(), server.URL+"/cake.git.3.0.0.nupkg")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer func() { _ = artifact.Body.Close() }()

	body, _ := io.ReadAll(artifact.Body)
	if string(body) != "archive" {
		t.Errorf("body = %q", body)
	}
	if states := hb.States(); len(states) != 1 {
		t.Errorf("States = %v, want one host", states)
	}
}

func TestHostBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &scriptedFetcher{err: ErrUpstreamDown}
	hb := NewHostBreaker(next, WithTripThreshold(3), WithCooldown(time.Hour))

	for range 6 {
		if _, err := hb.Fetch(context.Background(), "https://api.nuget.org/x.nupkg"); err == nil {
			t.Fatal("expected an error")
		}
	}
	if got := next.calls.Load(); got != 3 {
		t.Errorf("calls after trip = %d, want 3", got)
	}

	_, err := hb.Fetch(context.Background(), "https://api.nuget.org/y.nupkg")
	if !errors.Is(err, ErrUpstreamDown) {
		t.Errorf("open breaker error = %v, want ErrUpstreamDown", err)
	}
	if got := hb.States()["api.nuget.org"]; got != "open" {
		t.Errorf("state = %q, want open", got)
	}
}

func TestHostBreakerIgnoresMissingArchives(t *testing.T) {
	next := &scriptedFetcher{err: ErrNotFound}
	hb := NewHostBreaker(next, WithTripThreshold(2))

	for range 5 {
		_, err := hb.Fetch(context.Background(), "https://globalcdn.nuget.org/symbol-packages/a.snupkg")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	}
	if got := next.calls.Load(); got != 5 {
		t.Errorf("calls = %d, want 5", got)
	}
	if got := hb.States()["globalcdn.nuget.org"]; got != "closed" {
		t.Errorf("state = %q, want closed", got)
	}
}

func TestHostBreakerIsolatesHosts(t *testing.T) {
	next := &scriptedFetcher{err: ErrUpstreamDown}
	hb := NewHostBreaker(next, WithTripThreshold(1), WithCooldown(time.Hour))

	_, _ = hb.Fetch(context.Background(), "https://globalcdn.nuget.org/symbol-packages/a.snupkg")

	next.err = nil
	artifact, err := hb.Fetch(context.Background(), "https://api.nuget.org/v3-flatcontainer/a/1.0.0/a.1.0.0.nupkg")
	if err != nil {
		t.Fatalf("other host should not be affected: %v", err)
	}
	_ = artifact.Body.Close()

	states := hb.States()
	if states["globalcdn.nuget.org"] != "open" || states["api.nuget.org"] != "closed" {
		t.Errorf("States = %v", states)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "https://api.nuget.org/v3-flatcontainer/cake.git/3.0.0/cake.git.3.0.0.nupkg", want: "api.nuget.org"},
		{in: "https://globalcdn.nuget.org/symbol-packages/cake.git.3.0.0.snupkg", want: "globalcdn.nuget.org"},
		{in: "http://127.0.0.1:8080/flatcontainer/a/1.0.0/a.1.0.0.nupkg", want: "127.0.0.1:8080"},
		{in: "not a url", want: "invalid"},
	}
	for _, tt := range tests {
		if got := hostOf(tt.in); got != tt.want {
			t.Errorf("hostOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
