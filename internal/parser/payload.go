package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/titanous/json5"

	"github.com/IshaanNene/bundlewatch/internal/types"
)

// DecodePayload decodes a script body as JSON, keeping numbers as json.Number.
// With lenient set, text that strict JSON rejects is retried as JSON5 (trailing commas,
// comments, unquoted keys) and then normalized to the same representation.
func DecodePayload(data []byte, lenient bool) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, types.ErrEmptyPayload
	}

	v, strictErr := decodeStrict(data)
	if strictErr == nil {
		return v, nil
	}
	if !lenient {
		return nil, fmt.Errorf("decode payload: %w", strictErr)
	}

	// Unmarshal rejects trailing data; the decoder below keeps number literals.
	var discard any
	if err := json5.Unmarshal(data, &discard); err != nil {
		return nil, fmt.Errorf("decode payload: %w (json5: %v)", strictErr, err)
	}
	dec := json5.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var loose any
	if err := dec.Decode(&loose); err != nil {
		return nil, fmt.Errorf("decode payload: %w (json5: %v)", strictErr, err)
	}
	return normalizeLoose(loose)
}

// normalizeLoose converts json5 numbers to json.Number. Literals that are already valid
// JSON are kept as written; hex and signed forms are rewritten in decimal.
func normalizeLoose(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			n, err := normalizeLoose(child)
			if err != nil {
				return nil, err
			}
			val[k] = n
		}
		return val, nil
	case []any:
		for i, child := range val {
			n, err := normalizeLoose(child)
			if err != nil {
				return nil, err
			}
			val[i] = n
		}
		return val, nil
	case json5.Number:
		return jsonNumber(string(val))
	case float64:
		// Infinity and NaN bypass Number.
		return nil, fmt.Errorf("number %v has no JSON form", val)
	default:
		return v, nil
	}
}

func jsonNumber(lit string) (json.Number, error) {
	s := strings.TrimPrefix(lit, "+")
	if json.Valid([]byte(s)) {
		return json.Number(s), nil
	}
	unsigned := strings.TrimPrefix(s, "-")
	if strings.HasPrefix(unsigned, "0x") || strings.HasPrefix(unsigned, "0X") {
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return "", fmt.Errorf("number %q: %w", lit, err)
		}
		return json.Number(strconv.FormatInt(n, 10)), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("number %q: %w", lit, err)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "", fmt.Errorf("number %q has no JSON form", lit)
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

func decodeStrict(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after payload")
	}
	return v, nil
}
