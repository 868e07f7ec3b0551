package source

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/fetcher"
	"github.com/IshaanNene/bundlewatch/internal/parser"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type countingObserver struct {
	fetched, failed, bytes int
}

func (o *countingObserver) PageFetched(n int) { o.fetched++; o.bytes += n }
func (o *countingObserver) PageFailed()       { o.failed++ }

func newTestSource(t *testing.T, obs Observer) (*Source, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/bundles", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><script id="landingPage-json-data">{"data":{"games":{}},"other":1}</script></html>`))
	})
	mux.HandleFunc("/games/foo-bundle", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><script id="webpack-bundle-page-data">{"bundleData":{"machine_name":"foo","n":7}}</script></html>`))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Fetcher.MaxRetries = 0
	cfg.Fetcher.RequestTimeout = 5 * time.Second
	f, err := fetcher.NewHTTPFetcher(cfg, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	var opts []Option
	if obs != nil {
		opts = append(opts, WithObserver(obs))
	}
	s, err := New(srv.URL, f, parser.NewCSSExtractor(true, testLogger), testLogger, opts...)
	require.NoError(t, err)
	return s, srv
}

func TestLoadJSONWithKey(t *testing.T) {
	obs := &countingObserver{}
	s, _ := newTestSource(t, obs)

	v, err := s.LoadJSON(context.Background(), "/games/foo-bundle", "webpack-bundle-page-data", "bundleData")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"machine_name": "foo", "n": json.Number("7")}, v)
	require.Equal(t, 1, obs.fetched)
	require.Positive(t, obs.bytes)
	require.Zero(t, obs.failed)
}

func TestLoadJSONWholePayload(t *testing.T) {
	s, _ := newTestSource(t, nil)

	v, err := s.LoadJSON(context.Background(), "bundles", "landingPage-json-data", "")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"data": map[string]any{"games": map[string]any{}}, "other": json.Number("1")}, v)
}

func TestLoadJSONNotFound(t *testing.T) {
	obs := &countingObserver{}
	s, _ := newTestSource(t, obs)
	ctx := context.Background()

	_, err := s.LoadJSON(ctx, "bundles", "landingPage-json-data", "missing")
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.LoadJSON(ctx, "bundles", "no-such-element", "data")
	require.ErrorIs(t, err, types.ErrNotFound)

	require.Equal(t, 2, obs.failed)
}

func TestLoadJSONFetchFailure(t *testing.T) {
	s, _ := newTestSource(t, nil)

	_, err := s.LoadJSON(context.Background(), "gone", "landingPage-json-data", "data")
	require.Error(t, err)
	require.False(t, errors.Is(err, types.ErrNotFound))

	var fe *types.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, http.StatusGone, fe.StatusCode)
}

func TestResolve(t *testing.T) {
	s, err := New("https://www.humblebundle.com", nil, nil, testLogger)
	require.NoError(t, err)

	tests := []struct{ page, want string }{
		{"bundles", "https://www.humblebundle.com/bundles"},
		{"/games/foo-bundle", "https://www.humblebundle.com/games/foo-bundle"},
		{"/books/bar?hmb_source=navbar", "https://www.humblebundle.com/books/bar?hmb_source=navbar"},
		{"https://cdn.example.com/x", "https://cdn.example.com/x"},
	}
	for _, tt := range tests {
		got, err := s.Resolve(tt.page)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, tt.page)
	}

	_, err = New("not a url", nil, nil, testLogger)
	require.ErrorIs(t, err, types.ErrInvalidURL)
}
