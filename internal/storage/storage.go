// Package storage persists bundles, their charities and their items into a relational or
// document backend.
package storage

import (
	"context"
	"time"
)

// Charity is a charity a bundle donates to, keyed by machine_name.
type Charity struct {
	MachineName string
	HumanName   string
	Description string
}

// Item is one content item offered in a bundle tier, keyed by machine_name.
type Item struct {
	MachineName string
	HumanName   string
	Description string
}

// Bundle is the relational view of a snapshot record.
type Bundle struct {
	MachineName            string
	Author                 string
	HumanName              string
	DetailedMarketingBlurb string
	ShortMarketingBlurb    string
	MediaType              string
	Name                   string
	URL                    string
	StartDate              time.Time
	EndDate                *time.Time

	Charities []Charity
	Items     []Item
}

// Store is the interface for all loader backends.
type Store interface {
	// HasBundle reports whether a bundle with machineName is already stored.
	HasBundle(ctx context.Context, machineName string) (bool, error)

	// SaveBundle stores b with its charities and items. Charities and items that already
	// exist are reused, not overwritten.
	SaveBundle(ctx context.Context, b *Bundle) error

	// Close releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}
