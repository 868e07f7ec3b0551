package pipeline

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/IshaanNene/bundlewatch/internal/types"
)

// Middleware processes a record and returns the (possibly modified) record.
// Return nil to drop the record from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a record. Return nil to drop the record.
	Process(rec types.Record) (types.Record, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the record through all middleware in order.
func (p *Pipeline) Process(rec types.Record) (types.Record, error) {
	current := rec

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage:  mw.Name(),
				Record: current,
				Err:    err,
			}
		}
		if result == nil {
			p.logger.Debug("record dropped", "stage", mw.Name(), "machine_name", rec.MachineName())
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// splitPath turns "from_bundle.start_date" into its segments.
func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// --- Built-in Middleware ---

// RequiredFieldsMiddleware drops records missing any of the dotted paths in Fields.
// Nil values and empty strings count as missing.
type RequiredFieldsMiddleware struct {
	Fields []string
	Logger *slog.Logger
}

func (m *RequiredFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredFieldsMiddleware) Process(rec types.Record) (types.Record, error) {
	for _, field := range m.Fields {
		val, ok := rec.Lookup(splitPath(field)...)
		if ok && val != nil {
			if s, isString := val.(string); !isString || s != "" {
				continue
			}
		}
		if m.Logger != nil {
			m.Logger.Warn("dropping record without required field",
				"field", field, "machine_name", rec.MachineName())
		}
		return nil, nil
	}
	return rec, nil
}

// DedupMiddleware drops records whose key field was already seen.
type DedupMiddleware struct {
	mu   sync.Mutex
	seen map[string]struct{}
	key  string
}

func NewDedupMiddleware(key string) *DedupMiddleware {
	return &DedupMiddleware{
		seen: make(map[string]struct{}),
		key:  key,
	}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(rec types.Record) (types.Record, error) {
	val := rec.String(splitPath(m.key)...)
	if val == "" {
		return nil, fmt.Errorf("dedup key %q is empty", m.key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[val]; exists {
		return nil, nil
	}
	m.seen[val] = struct{}{}
	return rec, nil
}

// TrimMiddleware trims whitespace from the string values at the dotted paths in Fields.
type TrimMiddleware struct {
	Fields []string
}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(rec types.Record) (types.Record, error) {
	for _, field := range m.Fields {
		segments := splitPath(field)
		parent := map[string]any(rec)
		if len(segments) > 1 {
			p, ok := rec.Map(segments[:len(segments)-1]...)
			if !ok {
				continue
			}
			parent = p
		}
		last := segments[len(segments)-1]
		if s, ok := parent[last].(string); ok {
			parent[last] = strings.TrimSpace(s)
		}
	}
	return rec, nil
}
