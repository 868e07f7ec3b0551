package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/IshaanNene/bundlewatch/internal/codec"
	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

//go:embed schema.sql
var Schema string

// SQLStore writes bundles to a local SQLite file or a remote libSQL database.
type SQLStore struct {
	db     *sql.DB
	name   string
	logger *slog.Logger
}

// NewSQLStore opens the database described by cfg and creates the schema if needed.
// A non-empty URL selects the remote libSQL driver, otherwise File is opened locally.
func NewSQLStore(cfg config.DatabaseConfig, logger *slog.Logger) (*SQLStore, error) {
	driver, dsn, name, err := sqlSource(cfg)
	if err != nil {
		return nil, &types.StorageError{Backend: "sql", Err: err}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &types.StorageError{Backend: name, Err: fmt.Errorf("open: %w", err)}
	}
	if name == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{
		db:     db,
		name:   name,
		logger: logger.With("component", name+"_storage"),
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("database opened", "driver", driver)
	return s, nil
}

func sqlSource(cfg config.DatabaseConfig) (driver, dsn, name string, err error) {
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return "", "", "", fmt.Errorf("database url: %w", err)
		}
		if cfg.AuthToken != "" {
			q := u.Query()
			q.Set("authToken", cfg.AuthToken)
			u.RawQuery = q.Encode()
		}
		return "libsql", u.String(), "libsql", nil
	}

	if cfg.File == "" {
		return "", "", "", errors.New("database file not specified")
	}
	if dir := filepath.Dir(cfg.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", "", fmt.Errorf("create database dir: %w", err)
		}
	}
	return "sqlite", cfg.File, "sqlite", nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return &types.StorageError{Backend: s.name, Err: fmt.Errorf("create schema: %w", err)}
	}
	return nil
}

func (s *SQLStore) Name() string { return s.name }

func (s *SQLStore) HasBundle(ctx context.Context, machineName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"select 1 from bundles where machine_name = ?", machineName,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &types.StorageError{Backend: s.name, Err: err}
	}
	return true, nil
}

// SaveBundle inserts b and its associations in one transaction.
func (s *SQLStore) SaveBundle(ctx context.Context, b *Bundle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Backend: s.name, Err: fmt.Errorf("begin: %w", err)}
	}
	if err := s.saveBundle(ctx, tx, b); err != nil {
		tx.Rollback()
		return &types.StorageError{Backend: s.name, Err: fmt.Errorf("bundle %s: %w", b.MachineName, err)}
	}
	if err := tx.Commit(); err != nil {
		return &types.StorageError{Backend: s.name, Err: fmt.Errorf("commit: %w", err)}
	}
	s.logger.Debug("bundle stored",
		"machine_name", b.MachineName,
		"charities", len(b.Charities),
		"items", len(b.Items),
	)
	return nil
}

func (s *SQLStore) saveBundle(ctx context.Context, tx *sql.Tx, b *Bundle) error {
	for _, c := range b.Charities {
		if _, err := tx.ExecContext(ctx,
			"insert or ignore into charities (machine_name, human_name, description) values (?, ?, ?)",
			c.MachineName, c.HumanName, c.Description,
		); err != nil {
			return fmt.Errorf("charity %s: %w", c.MachineName, err)
		}
	}
	for _, it := range b.Items {
		if _, err := tx.ExecContext(ctx,
			"insert or ignore into bundle_items (machine_name, human_name, description) values (?, ?, ?)",
			it.MachineName, it.HumanName, it.Description,
		); err != nil {
			return fmt.Errorf("item %s: %w", it.MachineName, err)
		}
	}

	var end sql.NullString
	if b.EndDate != nil {
		end = sql.NullString{String: codec.FormatTime(*b.EndDate), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`insert into bundles (
			machine_name, author, human_name, detailed_marketing_blurb, short_marketing_blurb,
			media_type, name, start_date, end_date, url
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.MachineName, b.Author, b.HumanName, b.DetailedMarketingBlurb, b.ShortMarketingBlurb,
		b.MediaType, b.Name, codec.FormatTime(b.StartDate), end, b.URL,
	); err != nil {
		return err
	}

	for _, c := range b.Charities {
		if _, err := tx.ExecContext(ctx,
			"insert or ignore into bundle_charity_association (bundle_machine_name, charity_machine_name) values (?, ?)",
			b.MachineName, c.MachineName,
		); err != nil {
			return fmt.Errorf("charity link %s: %w", c.MachineName, err)
		}
	}
	for _, it := range b.Items {
		if _, err := tx.ExecContext(ctx,
			"insert or ignore into bundle_bundle_item_association (bundle_machine_name, bundle_item_machine_name) values (?, ?)",
			b.MachineName, it.MachineName,
		); err != nil {
			return fmt.Errorf("item link %s: %w", it.MachineName, err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	s.logger.Info("database closing")
	return s.db.Close()
}
