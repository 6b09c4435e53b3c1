// Copyright 2025 James Ross
package docstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (s *MongoStore) LoadJob(ctx context.Context, tenantID, id string) (*Job, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var job Job
	err = s.jobs().FindOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "tenantId", Value: tenantID}}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MongoStore) InsertJob(ctx context.Context, job *Job) error {
	if job.ID.IsZero() {
		job.ID = bson.NewObjectID()
	}
	_, err := s.jobs().InsertOne(ctx, job)
	return err
}

func (s *MongoStore) TransitionRunning(ctx context.Context, tenantID, id string) (*Job, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: StatusRunning},
		{Key: "progress", Value: 10},
		{Key: "startedAt", Value: now},
		{Key: "error", Value: nil},
	}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var job Job
	err = s.jobs().FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "tenantId", Value: tenantID}}, update, opts).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MongoStore) PersistUploading(ctx context.Context, tenantID, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: StatusUploading},
		{Key: "progress", Value: 75},
	}}}
	res, err := s.jobs().UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "tenantId", Value: tenantID}}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) PersistUploaded(ctx context.Context, tenantID, id string, rowCount int64, artifact ArtifactDescriptor, stats ProcessingStats) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: StatusUploaded},
		{Key: "progress", Value: 100},
		{Key: "rowCount", Value: rowCount},
		{Key: "artifact", Value: artifact},
		{Key: "processingStats", Value: stats},
		{Key: "finishedAt", Value: now},
		{Key: "error", Value: nil},
	}}}
	res, err := s.jobs().UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "tenantId", Value: tenantID}}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) PersistFailed(ctx context.Context, tenantID, id string, errRecord ErrorRecord) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: StatusFailed},
		{Key: "finishedAt", Value: now},
		{Key: "error", Value: errRecord},
	}}}
	res, err := s.jobs().UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "tenantId", Value: tenantID}}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
