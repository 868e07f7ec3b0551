// Package source loads the JSON documents store pages embed in script elements.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/IshaanNene/bundlewatch/internal/fetcher"
	"github.com/IshaanNene/bundlewatch/internal/parser"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// PageSource is the contract discovery depends on.
type PageSource interface {
	// LoadJSON fetches page and returns the payload of its script element elementID,
	// narrowed to payload[key] when key is non-empty.
	LoadJSON(ctx context.Context, page, elementID, key string) (any, error)
}

// Observer is notified about every page load. Metrics implement it.
type Observer interface {
	PageFetched(bytes int)
	PageFailed()
}

// Source resolves page paths against a base URL and decodes their embedded payload.
type Source struct {
	base      *url.URL
	fetcher   fetcher.Fetcher
	extractor parser.ScriptExtractor
	observer  Observer
	logger    *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithObserver reports page loads to o.
func WithObserver(o Observer) Option {
	return func(s *Source) { s.observer = o }
}

// New creates a Source rooted at baseURL.
func New(baseURL string, f fetcher.Fetcher, ex parser.ScriptExtractor, logger *slog.Logger, opts ...Option) (*Source, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", types.ErrInvalidURL, baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w %q: base URL must be absolute", types.ErrInvalidURL, baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	s := &Source{
		base:      base,
		fetcher:   f,
		extractor: ex,
		logger:    logger.With("component", "source"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve turns a page path into an absolute URL. Absolute URLs pass through unchanged.
func (s *Source) Resolve(page string) (string, error) {
	ref, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", types.ErrInvalidURL, page, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	ref.Path = strings.TrimLeft(ref.Path, "/")
	return s.base.ResolveReference(ref).String(), nil
}

// LoadJSON implements PageSource.
func (s *Source) LoadJSON(ctx context.Context, page, elementID, key string) (any, error) {
	target, err := s.Resolve(page)
	if err != nil {
		return nil, err
	}
	req, err := types.NewRequest(target)
	if err != nil {
		return nil, err
	}
	req.Tag = elementID

	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		s.pageFailed()
		return nil, fmt.Errorf("load %s: %w", page, err)
	}
	if s.observer != nil {
		s.observer.PageFetched(len(resp.Body))
	}

	payload, err := s.extractor.Extract(resp, elementID)
	if err != nil {
		s.pageFailed()
		return nil, fmt.Errorf("load %s: %w", page, err)
	}

	if key == "" {
		return payload, nil
	}
	m, ok := types.AsMap(payload)
	if !ok {
		s.pageFailed()
		return nil, fmt.Errorf("load %s: payload of #%s is not an object: %w", page, elementID, types.ErrNotFound)
	}
	v, ok := m[key]
	if !ok {
		s.pageFailed()
		return nil, fmt.Errorf("load %s: key %q missing from #%s: %w", page, key, elementID, types.ErrNotFound)
	}

	s.logger.Debug("loaded page", "url", target, "element", elementID, "key", key)
	return v, nil
}

func (s *Source) pageFailed() {
	if s.observer != nil {
		s.observer.PageFailed()
	}
}
