// Package mongostore is the MongoDB backed link store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ndajr/shortlink/internal/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const (
	connectTimeout = 15 * time.Second
	defaultDBName  = "shortlink"
	collectionName = "links"
)

type Store struct {
	client *mongo.Client
	links  *mongo.Collection
	logger *slog.Logger
}

// NewStore connects to uri, waits for the primary and ensures the indexes exist.
// The database name is taken from the URI path and defaults to "shortlink".
func NewStore(ctx context.Context, logger *slog.Logger, uri string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("store: invalid mongo uri: %w", err)
	}
	dbName := cs.Database
	if dbName == "" {
		dbName = defaultDBName
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect to mongo: %w", err)
	}

	s := &Store{
		client: client,
		links:  client.Database(dbName).Collection(collectionName),
		logger: logger,
	}
	if err := s.waitReady(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("successfully connected to mongo", "database", dbName)

	return s, nil
}

func (s *Store) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(time.Second * 1)
	defer ticker.Stop()

	for {
		err := s.client.Ping(ctx, readpref.Primary())
		if err == nil {
			return nil
		}

		s.logger.Warn("unable to establish connection, retrying...", "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("mongo connection timed out or was cancelled: %w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.links.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "shortCode", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("shortCode_unique"),
		},
		{
			Keys:    bson.D{{Key: "longUrl", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("longUrl_createdAt"),
		},
	})
	if err != nil {
		return fmt.Errorf("store: failed to create indexes: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Insert relies on the unique shortCode index, so of two concurrent claims only one succeeds.
func (s *Store) Insert(ctx context.Context, l core.Link) (core.Link, error) {
	l.Clicks = 0
	if _, err := s.links.InsertOne(ctx, l); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return core.Link{}, core.ErrDuplicateCode
		}
		return core.Link{}, fmt.Errorf("store: InsertOne: %w", err)
	}
	return l, nil
}

func (s *Store) FindByCode(ctx context.Context, shortCode string) (core.Link, error) {
	return s.findOne(ctx, bson.D{{Key: "shortCode", Value: shortCode}}, options.FindOne())
}

func (s *Store) FindReusable(ctx context.Context, longURL string, q core.ReuseQuery) (core.Link, error) {
	filter := bson.D{
		{Key: "longUrl", Value: longURL},
		{Key: "shortCode", Value: bson.D{{Key: "$regex", Value: fmt.Sprintf("^.{%d}$", q.CodeLength)}}},
	}
	if q.ExcludeCustom {
		filter = append(filter, bson.E{Key: "custom", Value: false})
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	return s.findOne(ctx, filter, opts)
}

func (s *Store) findOne(ctx context.Context, filter bson.D, opts *options.FindOneOptions) (core.Link, error) {
	var l core.Link
	if err := s.links.FindOne(ctx, filter, opts).Decode(&l); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return core.Link{}, core.ErrNotFound
		}
		return core.Link{}, fmt.Errorf("store: FindOne: %w", err)
	}
	return l, nil
}

// IncrementClicks uses $inc, which is atomic on a single document.
func (s *Store) IncrementClicks(ctx context.Context, shortCode string) error {
	res, err := s.links.UpdateOne(ctx,
		bson.D{{Key: "shortCode", Value: shortCode}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "clicks", Value: 1}}}},
	)
	if err != nil {
		return fmt.Errorf("store: UpdateOne: %w", err)
	}
	if res.MatchedCount == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Warn("failed to disconnect from mongo", "error", err)
	}
}
