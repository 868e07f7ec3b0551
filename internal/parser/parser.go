// Package parser locates the JSON payload a store page embeds in a <script> element.
package parser

import (
	"fmt"
	"log/slog"

	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// ScriptExtractor pulls the decoded JSON payload of a script element out of a response.
type ScriptExtractor interface {
	// Extract returns the payload of the script element with the given id.
	// A missing element yields a *types.ParseError wrapping types.ErrNotFound.
	Extract(resp *types.Response, elementID string) (any, error)
}

// New returns the extractor selected by cfg.Locator.
func New(cfg config.ParserConfig, logger *slog.Logger) (ScriptExtractor, error) {
	switch cfg.Locator {
	case "", "css":
		return NewCSSExtractor(cfg.Lenient, logger), nil
	case "xpath":
		return NewXPathExtractor(cfg.Lenient, logger), nil
	default:
		return nil, fmt.Errorf("unknown parser locator %q", cfg.Locator)
	}
}

func responseURL(resp *types.Response) string {
	if resp == nil {
		return ""
	}
	return resp.URL()
}
