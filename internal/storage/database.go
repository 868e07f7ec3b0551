package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// MongoStore writes bundles, charities and items to three MongoDB collections.
type MongoStore struct {
	client    *mongo.Client
	bundles   *mongo.Collection
	charities *mongo.Collection
	items     *mongo.Collection
	count     int
	logger    *slog.Logger
}

// NewMongoStore connects to cfg.MongoURI and ensures a unique machine_name index on every collection.
func NewMongoStore(cfg config.DatabaseConfig, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("connect: %w", err)}
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("ping: %w", err)}
	}

	db := client.Database(cfg.MongoDatabase)
	s := &MongoStore{
		client:    client,
		bundles:   db.Collection("bundles"),
		charities: db.Collection("charities"),
		items:     db.Collection("bundle_items"),
		logger:    logger.With("component", "mongo_storage"),
	}

	for _, coll := range []*mongo.Collection{s.bundles, s.charities, s.items} {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "machine_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			client.Disconnect(ctx)
			return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("index %s: %w", coll.Name(), err)}
		}
	}
	return s, nil
}

func (s *MongoStore) Name() string { return "mongodb" }

func (s *MongoStore) HasBundle(ctx context.Context, machineName string) (bool, error) {
	n, err := s.bundles.CountDocuments(ctx, bson.M{"machine_name": machineName}, options.Count().SetLimit(1))
	if err != nil {
		return false, &types.StorageError{Backend: "mongodb", Err: err}
	}
	return n > 0, nil
}

// SaveBundle upserts charities and items without touching existing ones, then inserts
// the bundle document holding their keys.
func (s *MongoStore) SaveBundle(ctx context.Context, b *Bundle) error {
	upsert := options.Update().SetUpsert(true)

	charityKeys := make([]string, 0, len(b.Charities))
	for _, c := range b.Charities {
		_, err := s.charities.UpdateOne(ctx,
			bson.M{"machine_name": c.MachineName},
			bson.M{"$setOnInsert": bson.M{
				"machine_name": c.MachineName,
				"human_name":   c.HumanName,
				"description":  c.Description,
			}},
			upsert,
		)
		if err != nil {
			return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("charity %s: %w", c.MachineName, err)}
		}
		charityKeys = append(charityKeys, c.MachineName)
	}

	itemKeys := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		_, err := s.items.UpdateOne(ctx,
			bson.M{"machine_name": it.MachineName},
			bson.M{"$setOnInsert": bson.M{
				"machine_name": it.MachineName,
				"human_name":   it.HumanName,
				"description":  it.Description,
			}},
			upsert,
		)
		if err != nil {
			return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("item %s: %w", it.MachineName, err)}
		}
		itemKeys = append(itemKeys, it.MachineName)
	}

	doc := bson.M{
		"machine_name":             b.MachineName,
		"author":                   b.Author,
		"human_name":               b.HumanName,
		"detailed_marketing_blurb": b.DetailedMarketingBlurb,
		"short_marketing_blurb":    b.ShortMarketingBlurb,
		"media_type":               b.MediaType,
		"name":                     b.Name,
		"url":                      b.URL,
		"start_date":               b.StartDate,
		"charities":                charityKeys,
		"bundle_items":             itemKeys,
	}
	if b.EndDate != nil {
		doc["end_date"] = *b.EndDate
	}

	if _, err := s.bundles.InsertOne(ctx, doc); err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("bundle %s: %w", b.MachineName, err)}
	}

	s.count++
	s.logger.Debug("bundle stored in mongodb", "machine_name", b.MachineName, "total", s.count)
	return nil
}

func (s *MongoStore) Close() error {
	s.logger.Info("mongodb storage closing", "total_bundles", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Open returns the backend selected by cfg.Backend.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		s, err := NewSQLStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		s, err := NewMongoStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &types.StorageError{Backend: cfg.Backend, Err: fmt.Errorf("unknown backend %q", cfg.Backend)}
	}
}
