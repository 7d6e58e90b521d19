package mongodb

import (
	"context"
	"errors"

	"github.com/goevery/broker/internal/room"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var entityCollections = map[room.Kind]string{
	room.KindOrder:    "orders",
	room.KindMachine:  "machines",
	room.KindCustomer: "customers",
}

// EntityOwnership resolves the owning tenant of an entity from the
// branchId field of its business document.
type EntityOwnership struct {
	database *mongo.Database
}

func NewEntityOwnership(database *mongo.Database) *EntityOwnership {
	return &EntityOwnership{
		database,
	}
}

func (o *EntityOwnership) OwnerTenantOf(ctx context.Context, kind room.Kind, entityId string) (string, error) {
	collection, ok := entityCollections[kind]
	if !ok {
		return "", room.ErrEntityNotFound
	}

	opts := options.FindOne().SetProjection(bson.M{"branchId": 1})

	var document bson.M
	err := o.database.Collection(collection).
		FindOne(ctx, bson.M{"_id": idCandidates(entityId)}, opts).
		Decode(&document)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", room.ErrEntityNotFound
	}
	if err != nil {
		return "", err
	}

	tenantId := stringOf(document["branchId"])
	if tenantId == "" {
		return "", room.ErrEntityNotFound
	}

	return tenantId, nil
}
