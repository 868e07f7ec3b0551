package parser

import (
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/bundlewatch/internal/types"
)

// CSSExtractor finds script elements with goquery.
type CSSExtractor struct {
	lenient bool
	logger  *slog.Logger
}

// NewCSSExtractor creates a new CSS selector extractor.
func NewCSSExtractor(lenient bool, logger *slog.Logger) *CSSExtractor {
	return &CSSExtractor{
		lenient: lenient,
		logger:  logger.With("component", "css_extractor"),
	}
}

// Extract implements ScriptExtractor.
func (p *CSSExtractor) Extract(resp *types.Response, elementID string) (any, error) {
	selector := "script#" + elementID

	doc, err := resp.Document()
	if err != nil {
		return nil, &types.ParseError{URL: responseURL(resp), Selector: selector, Err: err}
	}

	// Compare ids directly so element ids never need selector escaping.
	script := doc.Find("script[id]").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		id, _ := sel.Attr("id")
		return id == elementID
	}).First()
	if script.Length() == 0 {
		return nil, &types.ParseError{URL: responseURL(resp), Selector: selector, Err: types.ErrNotFound}
	}

	payload, err := DecodePayload([]byte(script.Text()), p.lenient)
	if err != nil {
		return nil, &types.ParseError{URL: responseURL(resp), Selector: selector, Err: err}
	}

	p.logger.Debug("extracted payload", "url", responseURL(resp), "selector", selector)
	return payload, nil
}
