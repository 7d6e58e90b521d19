package mongodb

import (
	"context"
	"time"

	"github.com/goevery/broker/internal/ratelimit"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CounterStore is a ratelimit.CounterStore shared by every broker instance
// pointed at the same database. Each increment is one atomic round trip.
type CounterStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewCounterStore(database *mongo.Database) *CounterStore {
	return &CounterStore{
		database.Collection("rate_limits"),
		time.Now,
	}
}

func (s *CounterStore) Setup(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, ttlIndex("resetAt"))

	return err
}

func (s *CounterStore) Increment(ctx context.Context, key string, window time.Duration) (ratelimit.Window, error) {
	now := s.now()

	expired := bson.D{{Key: "$lte", Value: bson.A{
		bson.D{{Key: "$ifNull", Value: bson.A{"$resetAt", now}}},
		now,
	}}}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "count", Value: bson.D{{Key: "$cond", Value: bson.A{
				expired,
				1,
				bson.D{{Key: "$add", Value: bson.A{"$count", 1}}},
			}}}},
			{Key: "resetAt", Value: bson.D{{Key: "$cond", Value: bson.A{
				expired,
				now.Add(window),
				"$resetAt",
			}}}},
		}}},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Count   int64     `bson:"count"`
		ResetAt time.Time `bson:"resetAt"`
	}
	err := s.collection.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&counter)
	if err != nil {
		return ratelimit.Window{}, err
	}

	return ratelimit.Window{
		Count:   counter.Count,
		ResetAt: counter.ResetAt,
	}, nil
}
