package fetcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// Fetcher is the interface for all request fetcher implementations.
type Fetcher interface {
	// Fetch retrieves the content at the given request's URL.
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}

// New builds the fetcher selected by cfg.Fetcher.Type.
func New(cfg *config.Config, logger *slog.Logger) (Fetcher, error) {
	var (
		f   Fetcher
		err error
	)
	switch cfg.Fetcher.Type {
	case "", "http":
		f, err = NewHTTPFetcher(cfg, logger)
	case "browser":
		f, err = NewBrowserFetcher(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown fetcher type %q", types.ErrNoFetcher, cfg.Fetcher.Type)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
