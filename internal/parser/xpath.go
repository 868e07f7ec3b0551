package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antchfx/htmlquery"

	"github.com/IshaanNene/bundlewatch/internal/types"
)

// XPathExtractor finds script elements with XPath expressions.
type XPathExtractor struct {
	lenient bool
	logger  *slog.Logger
}

// NewXPathExtractor creates a new XPath extractor.
func NewXPathExtractor(lenient bool, logger *slog.Logger) *XPathExtractor {
	return &XPathExtractor{
		lenient: lenient,
		logger:  logger.With("component", "xpath_extractor"),
	}
}

// Extract implements ScriptExtractor.
func (p *XPathExtractor) Extract(resp *types.Response, elementID string) (any, error) {
	expr := fmt.Sprintf("//script[@id=%s]", xpathLiteral(elementID))

	doc, err := htmlquery.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &types.ParseError{URL: responseURL(resp), Selector: expr, Err: err}
	}

	node, err := htmlquery.Query(doc, expr)
	if err != nil {
		return nil, &types.ParseError{URL: responseURL(resp), Selector: expr, Err: err}
	}
	if node == nil {
		return nil, &types.ParseError{URL: responseURL(resp), Selector: expr, Err: types.ErrNotFound}
	}

	payload, err := DecodePayload([]byte(htmlquery.InnerText(node)), p.lenient)
	if err != nil {
		return nil, &types.ParseError{URL: responseURL(resp), Selector: expr, Err: err}
	}

	p.logger.Debug("extracted payload", "url", responseURL(resp), "selector", expr)
	return payload, nil
}

// xpathLiteral quotes s for use inside an XPath 1.0 expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	// Both quote kinds present: concat('a', "'", 'b').
	parts := strings.Split(s, "'")
	for i, part := range parts {
		parts[i] = "'" + part + "'"
	}
	return "concat(" + strings.Join(parts, `, "'", `) + ")"
}
