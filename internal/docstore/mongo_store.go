// Copyright 2025 James Ross
package docstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flyingrobots/reportgen/internal/config"
)

// MongoStore wires the two connection endpoints spec.md §6 requires: a
// writable primary for the job/schedule store, and a read endpoint that must
// resolve to a non-writable secondary, verified per job via IsWritablePrimary.
type MongoStore struct {
	writeClient *mongo.Client
	readClient  *mongo.Client
	db          string
}

// Connect establishes both endpoints. The two may point at the same
// deployment in a single-node dev setup, or at distinct primary/secondary
// connection strings in production.
func Connect(ctx context.Context, cfg *config.Config) (*MongoStore, error) {
	writeClient, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.WriteURI))
	if err != nil {
		return nil, fmt.Errorf("docstore: connect write endpoint: %w", err)
	}
	readClient, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.ReadURI))
	if err != nil {
		return nil, fmt.Errorf("docstore: connect read endpoint: %w", err)
	}
	if err := writeClient.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("docstore: ping write endpoint: %w", err)
	}
	if err := readClient.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("docstore: ping read endpoint: %w", err)
	}
	return &MongoStore{writeClient: writeClient, readClient: readClient, db: cfg.Mongo.Database}, nil
}

func (s *MongoStore) Disconnect(ctx context.Context) error {
	writeErr := s.writeClient.Disconnect(ctx)
	readErr := s.readClient.Disconnect(ctx)
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

func (s *MongoStore) jobs() *mongo.Collection      { return s.writeClient.Database(s.db).Collection("jobs") }
func (s *MongoStore) schedules() *mongo.Collection { return s.writeClient.Database(s.db).Collection("schedules") }
func (s *MongoStore) apiKeys() *mongo.Collection   { return s.writeClient.Database(s.db).Collection("apiKeys") }

// Reader returns the SourceReader backed by the read endpoint, scoped to a
// configurable source collection per call (the job processor resolves the
// collection name per §4.4 step 3).
func (s *MongoStore) Reader() SourceReader {
	return &mongoSourceReader{client: s.readClient, db: s.db}
}
