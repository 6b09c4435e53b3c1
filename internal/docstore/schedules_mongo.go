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

// ClaimDueSchedule fetches (without mutating) one schedule due to fire. The
// actual single-writer guarantee comes from AdvanceSchedule's conditional
// update in the ticker's step 4, not from this read.
func (s *MongoStore) ClaimDueSchedule(ctx context.Context, now time.Time) (*Schedule, bool, error) {
	filter := bson.D{
		{Key: "enabled", Value: true},
		{Key: "nextRunAt", Value: bson.D{{Key: "$lte", Value: now}}},
	}
	var sched Schedule
	err := s.schedules().FindOne(ctx, filter).Decode(&sched)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &sched, true, nil
}

func (s *MongoStore) AdvanceSchedule(ctx context.Context, id bson.ObjectID, prevNextRunAt, nextRunAt, lastRunAt time.Time) (bool, error) {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "enabled", Value: true},
		{Key: "nextRunAt", Value: prevNextRunAt},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "lastRunAt", Value: lastRunAt},
		{Key: "nextRunAt", Value: nextRunAt},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}}
	res, err := s.schedules().UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) DisableSchedule(ctx context.Context, id bson.ObjectID) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "enabled", Value: false},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}}
	_, err := s.schedules().UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	return err
}

func (s *MongoStore) InsertSchedule(ctx context.Context, schedule *Schedule) error {
	if schedule.ID.IsZero() {
		schedule.ID = bson.NewObjectID()
	}
	_, err := s.schedules().InsertOne(ctx, schedule)
	return err
}

func (s *MongoStore) GetSchedule(ctx context.Context, tenantID, id string) (*Schedule, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var sched Schedule
	err = s.schedules().FindOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "tenantId", Value: tenantID}}).Decode(&sched)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *MongoStore) ListSchedules(ctx context.Context, tenantID string) ([]*Schedule, error) {
	cur, err := s.schedules().Find(ctx, bson.D{{Key: "tenantId", Value: tenantID}}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*Schedule
	for cur.Next(ctx) {
		var sched Schedule
		if err := cur.Decode(&sched); err != nil {
			return nil, err
		}
		out = append(out, &sched)
	}
	return out, cur.Err()
}

func (s *MongoStore) UpdateSchedule(ctx context.Context, schedule *Schedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	_, err := s.schedules().ReplaceOne(ctx, bson.D{{Key: "_id", Value: schedule.ID}, {Key: "tenantId", Value: schedule.TenantID}}, schedule)
	return err
}
