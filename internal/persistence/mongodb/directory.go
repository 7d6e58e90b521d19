package mongodb

import (
	"context"
	"errors"

	"github.com/goevery/broker/internal/identity"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// IdentityDirectory reads identity records from the business collections.
// It never writes to them.
type IdentityDirectory struct {
	database *mongo.Database
}

func NewIdentityDirectory(database *mongo.Database) *IdentityDirectory {
	return &IdentityDirectory{
		database,
	}
}

func (d *IdentityDirectory) FindIdentity(ctx context.Context, id string, kind identity.Kind) (identity.Record, error) {
	lookup := kind.Lookup()
	if lookup.Collection == "" {
		return identity.Record{}, identity.ErrUnknownKind
	}

	var document bson.M
	err := d.database.Collection(lookup.Collection).
		FindOne(ctx, bson.M{"_id": idCandidates(id)}).
		Decode(&document)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return identity.Record{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Record{}, err
	}

	record := identity.Record{IsActive: isActive(document)}
	if lookup.TenantField != "" {
		record.TenantID = stringOf(document[lookup.TenantField])
	}
	if lookup.SelectedTenantField != "" {
		record.SelectedTenantID = stringOf(document[lookup.SelectedTenantField])
	}

	return record, nil
}

// isActive admits only accounts explicitly flagged active.
func isActive(document bson.M) bool {
	value, ok := document["isActive"].(bool)

	return ok && value
}
