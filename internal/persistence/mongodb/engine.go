// Package mongodb implements the broker stores on MongoDB: the session
// registry, the rate limit counters, and read-only lookups into the business
// collections that hold identities and entities.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = client.Ping(pingCtx, readpref.Primary())
	if err != nil {
		_ = client.Disconnect(context.Background())

		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return client, nil
}

// ttlIndex expires each document at the instant stored in field.
func ttlIndex(field string) mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
}

// idCandidates matches an _id stored either as an ObjectID or as a string.
func idCandidates(id string) bson.M {
	candidates := bson.A{id}
	if objectId, err := bson.ObjectIDFromHex(id); err == nil {
		candidates = append(candidates, objectId)
	}

	return bson.M{"$in": candidates}
}

func stringOf(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bson.ObjectID:
		return v.Hex()
	case nil:
		return ""
	}

	return fmt.Sprint(value)
}
