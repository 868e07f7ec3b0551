package parser

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const testHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Bundles</title>
    <script id="other-data" type="application/json">{"ignored":true}</script>
</head>
<body>
    <div id="landingPage-json-data">not a script</div>
    <script id="landingPage-json-data" type="application/json">
      {"data":{"games":{"mosaic":[{"products":[{"machine_name":"foo","tile_name":"Foo & <Bar>","price":12.50}]}]}}}
    </script>
    <script id="loose-data" type="application/json">
      {data: {count: 3, names: ['a', 'b',],}, // trailing comment
      }
    </script>
    <script id="empty-data" type="application/json">   </script>
</body>
</html>`

func makeResp(url, body string) *types.Response {
	req, _ := types.NewRequest(url)
	return &types.Response{
		Request:     req,
		StatusCode:  200,
		Body:        []byte(body),
		ContentType: "text/html",
	}
}

func extractors() map[string]ScriptExtractor {
	return map[string]ScriptExtractor{
		"css":   NewCSSExtractor(true, testLogger),
		"xpath": NewXPathExtractor(true, testLogger),
	}
}

func TestExtractFindsScriptByID(t *testing.T) {
	for name, ex := range extractors() {
		t.Run(name, func(t *testing.T) {
			resp := makeResp("https://www.humblebundle.com/bundles", testHTML)

			v, err := ex.Extract(resp, "landingPage-json-data")
			require.NoError(t, err)

			data := v.(map[string]any)["data"].(map[string]any)
			products := data["games"].(map[string]any)["mosaic"].([]any)[0].(map[string]any)["products"].([]any)
			product := products[0].(map[string]any)
			require.Equal(t, "foo", product["machine_name"])
			require.Equal(t, "Foo & <Bar>", product["tile_name"])
			require.Equal(t, json.Number("12.50"), product["price"])
		})
	}
}

func TestExtractMissingElement(t *testing.T) {
	for name, ex := range extractors() {
		t.Run(name, func(t *testing.T) {
			resp := makeResp("https://www.humblebundle.com/bundles", testHTML)

			_, err := ex.Extract(resp, "webpack-bundle-page-data")
			require.Error(t, err)
			require.ErrorIs(t, err, types.ErrNotFound)

			var pe *types.ParseError
			require.True(t, errors.As(err, &pe))
			require.Equal(t, "https://www.humblebundle.com/bundles", pe.URL)
			require.NotEmpty(t, pe.Selector)
		})
	}
}

func TestExtractLenientFallback(t *testing.T) {
	for name, ex := range extractors() {
		t.Run(name, func(t *testing.T) {
			resp := makeResp("https://example.com", testHTML)

			v, err := ex.Extract(resp, "loose-data")
			require.NoError(t, err)

			data := v.(map[string]any)["data"].(map[string]any)
			require.Equal(t, json.Number("3"), data["count"])
			require.Equal(t, []any{"a", "b"}, data["names"])
		})
	}
}

func TestExtractStrictRejectsLooseJSON(t *testing.T) {
	resp := makeResp("https://example.com", testHTML)

	_, err := NewCSSExtractor(false, testLogger).Extract(resp, "loose-data")
	require.Error(t, err)
	require.False(t, errors.Is(err, types.ErrNotFound))
}

func TestExtractEmptyPayload(t *testing.T) {
	resp := makeResp("https://example.com", testHTML)

	_, err := NewXPathExtractor(true, testLogger).Extract(resp, "empty-data")
	require.ErrorIs(t, err, types.ErrEmptyPayload)
}

func TestDecodePayload(t *testing.T) {
	v, err := DecodePayload([]byte(` {"a":[1,2.5,"x"],"b":null} `), false)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"a": []any{json.Number("1"), json.Number("2.5"), "x"},
		"b": nil,
	}, v)

	_, err = DecodePayload([]byte(`{"a":1}{"b":2}`), false)
	require.Error(t, err)
}

func TestXPathLiteral(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "'plain'"},
		{"it's", `"it's"`},
		{`a'b"c`, `concat('a', "'", 'b"c')`},
	}
	for _, tt := range tests {
		if got := xpathLiteral(tt.in); got != tt.want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewExtractor(t *testing.T) {
	ex, err := New(config.ParserConfig{Locator: "xpath"}, testLogger)
	require.NoError(t, err)
	require.IsType(t, &XPathExtractor{}, ex)

	_, err = New(config.ParserConfig{Locator: "regex"}, testLogger)
	require.Error(t, err)
}

func TestDecodePayloadLenientKeepsNumberLiterals(t *testing.T) {
	v, err := DecodePayload([]byte(`{
		// prices as published
		price: 1.50,
		id: 12345678901234567890,
		ratio: 1e-3,
		mask: 0x1F,
		delta: +2,
		tiers: [10.00, 15,],
	}`), true)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"price": json.Number("1.50"),
		"id":    json.Number("12345678901234567890"),
		"ratio": json.Number("1e-3"),
		"mask":  json.Number("31"),
		"delta": json.Number("2"),
		"tiers": []any{json.Number("10.00"), json.Number("15")},
	}, v)

	_, err = DecodePayload([]byte(`{a: Infinity,}`), true)
	require.Error(t, err)

	_, err = DecodePayload([]byte(`{a: 1,}{b: 2}`), true)
	require.Error(t, err)
}
