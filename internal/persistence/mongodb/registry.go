package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goevery/broker/internal/identity"
	"github.com/goevery/broker/internal/registry"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type Session struct {
	ConnectionHandle string     `bson:"connectionHandle"`
	IdentityId       string     `bson:"identityId"`
	IdentityKind     string     `bson:"identityKind"`
	TenantId         string     `bson:"tenantId,omitempty"`
	Role             string     `bson:"role"`
	Rooms            []string   `bson:"rooms"`
	Status           string     `bson:"status"`
	Platform         string     `bson:"platform,omitempty"`
	DeviceId         string     `bson:"deviceId,omitempty"`
	SourceAddress    string     `bson:"sourceAddress,omitempty"`
	LastActivity     time.Time  `bson:"lastActivity"`
	ConnectedAt      time.Time  `bson:"connectedAt"`
	DisconnectedAt   *time.Time `bson:"disconnectedAt,omitempty"`
	ExpiresAt        time.Time  `bson:"expiresAt"`
}

func fromSession(s *registry.Session) Session {
	rooms := s.Rooms
	if rooms == nil {
		rooms = []string{}
	}

	return Session{
		ConnectionHandle: s.ConnectionHandle,
		IdentityId:       s.IdentityId,
		IdentityKind:     string(s.IdentityKind),
		TenantId:         s.TenantId,
		Role:             s.Role,
		Rooms:            rooms,
		Status:           string(s.Status),
		Platform:         s.Platform,
		DeviceId:         s.DeviceId,
		SourceAddress:    s.SourceAddress,
		LastActivity:     s.LastActivity,
		ConnectedAt:      s.ConnectedAt,
		DisconnectedAt:   s.DisconnectedAt,
		ExpiresAt:        s.ExpiresAt,
	}
}

func (s Session) toSession() *registry.Session {
	return &registry.Session{
		ConnectionHandle: s.ConnectionHandle,
		IdentityId:       s.IdentityId,
		IdentityKind:     identity.Kind(s.IdentityKind),
		TenantId:         s.TenantId,
		Role:             s.Role,
		Rooms:            s.Rooms,
		Status:           registry.Status(s.Status),
		Platform:         s.Platform,
		DeviceId:         s.DeviceId,
		SourceAddress:    s.SourceAddress,
		LastActivity:     s.LastActivity,
		ConnectedAt:      s.ConnectedAt,
		DisconnectedAt:   s.DisconnectedAt,
		ExpiresAt:        s.ExpiresAt,
	}
}

// SessionRegistry is a registry.Registry over one collection. Expiry is
// delegated to a TTL index on expiresAt; queries also filter on it because
// the TTL monitor only runs periodically.
type SessionRegistry struct {
	logger     *zap.Logger
	collection *mongo.Collection
	options    registry.Options
}

func NewSessionRegistry(logger *zap.Logger, database *mongo.Database, opts registry.Options) *SessionRegistry {
	return &SessionRegistry{
		logger,
		database.Collection("sessions"),
		opts.Normalize(),
	}
}

func (r *SessionRegistry) Setup(ctx context.Context) error {
	handleIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "connectionHandle", Value: 1}},
		Options: options.Index().SetUnique(true),
	}

	identityIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "identityId", Value: 1},
			{Key: "status", Value: 1},
		},
	}

	tenantIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenantId", Value: 1},
			{Key: "status", Value: 1},
		},
	}

	roomsIndexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "rooms", Value: 1}},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		handleIndexModel,
		identityIndexModel,
		tenantIndexModel,
		roomsIndexModel,
		ttlIndex("expiresAt"),
	})

	return err
}

func (r *SessionRegistry) Upsert(ctx context.Context, session *registry.Session) error {
	if !session.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", registry.ErrInvalidTransition, session.Status)
	}

	document := fromSession(session)
	document.Rooms = dedupe(document.Rooms)
	if session.Status.IsLive() {
		document.ExpiresAt = r.options.Now().Add(r.options.SessionTTL)
	}

	filter := bson.M{"connectionHandle": session.ConnectionHandle}
	if session.Status.IsLive() {
		filter["status"] = bson.M{"$ne": string(registry.StatusDisconnected)}
	}

	_, err := r.collection.ReplaceOne(ctx, filter, document, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// the filter missed because the stored session is disconnected
		return fmt.Errorf("%w: %s is disconnected", registry.ErrInvalidTransition, session.ConnectionHandle)
	}

	return err
}

func (r *SessionRegistry) FindByHandle(ctx context.Context, handle string) (*registry.Session, error) {
	filter := bson.M{
		"connectionHandle": handle,
		"expiresAt":        bson.M{"$gt": r.options.Now()},
	}

	var document Session
	err := r.collection.FindOne(ctx, filter).Decode(&document)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return document.toSession(), nil
}

func (r *SessionRegistry) CountActiveByIdentity(ctx context.Context, identityId string) (int64, error) {
	return r.collection.CountDocuments(ctx, r.live(bson.M{"identityId": identityId}))
}

func (r *SessionRegistry) CountActiveByField(ctx context.Context, field registry.Field, value string) (int64, error) {
	if !field.Valid() {
		return 0, fmt.Errorf("%w: %q", registry.ErrUnknownField, field)
	}

	return r.collection.CountDocuments(ctx, r.live(bson.M{string(field): value}))
}

func (r *SessionRegistry) ListActiveInRoom(ctx context.Context, room string) ([]*registry.Session, error) {
	return r.find(ctx, r.live(bson.M{"rooms": room}))
}

func (r *SessionRegistry) ListActiveForIdentity(ctx context.Context, identityId string) ([]*registry.Session, error) {
	return r.find(ctx, r.live(bson.M{"identityId": identityId}))
}

func (r *SessionRegistry) ListActiveForTenant(ctx context.Context, tenantId string) ([]*registry.Session, error) {
	return r.find(ctx, r.live(bson.M{"tenantId": tenantId}))
}

func (r *SessionRegistry) RoomCounts(ctx context.Context, tenantId string) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: r.live(bson.M{"tenantId": tenantId})}},
		{{Key: "$unwind", Value: "$rooms"}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$rooms"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Room  string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	err = cursor.All(ctx, &rows)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Room] = row.Count
	}

	return counts, nil
}

func (r *SessionRegistry) MarkDisconnected(ctx context.Context, handle string) error {
	now := r.options.Now()

	update := bson.M{
		"$set": bson.M{
			"status":         string(registry.StatusDisconnected),
			"disconnectedAt": now,
			"expiresAt":      now.Add(r.options.DisconnectGrace),
		},
	}

	result, err := r.collection.UpdateOne(ctx, r.liveHandle(handle, now), update)
	if err != nil {
		return err
	}

	if result.MatchedCount > 0 {
		return nil
	}

	// already disconnected is a no-op, anything else is unknown
	_, err = r.FindByHandle(ctx, handle)

	return err
}

func (r *SessionRegistry) RefreshActivity(ctx context.Context, handle string) error {
	now := r.options.Now()

	return r.updateLive(ctx, handle, now, bson.M{
		"$set": bson.M{
			"status":       string(registry.StatusActive),
			"lastActivity": now,
			"expiresAt":    now.Add(r.options.SessionTTL),
		},
	})
}

func (r *SessionRegistry) AddRooms(ctx context.Context, handle string, rooms ...string) error {
	if rooms == nil {
		rooms = []string{}
	}

	return r.updateLive(ctx, handle, r.options.Now(), bson.M{
		"$addToSet": bson.M{"rooms": bson.M{"$each": rooms}},
	})
}

func (r *SessionRegistry) RemoveRoom(ctx context.Context, handle string, room string) error {
	return r.updateLive(ctx, handle, r.options.Now(), bson.M{
		"$pull": bson.M{"rooms": room},
	})
}

func (r *SessionRegistry) MarkIdle(ctx context.Context, inactiveSince time.Time) (int64, error) {
	filter := bson.M{
		"status":       string(registry.StatusActive),
		"lastActivity": bson.M{"$lt": inactiveSince},
		"expiresAt":    bson.M{"$gt": r.options.Now()},
	}

	update := bson.M{
		"$set": bson.M{"status": string(registry.StatusIdle)},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}

	if result.ModifiedCount > 0 {
		r.logger.Debug("sessions marked idle", zap.Int64("count", result.ModifiedCount))
	}

	return result.ModifiedCount, nil
}

func (r *SessionRegistry) updateLive(ctx context.Context, handle string, now time.Time, update bson.M) error {
	result, err := r.collection.UpdateOne(ctx, r.liveHandle(handle, now), update)
	if err != nil {
		return err
	}

	if result.MatchedCount == 0 {
		return registry.ErrNotFound
	}

	return nil
}

func (r *SessionRegistry) find(ctx context.Context, filter bson.M) ([]*registry.Session, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	var documents []Session
	err = cursor.All(ctx, &documents)
	if err != nil {
		return nil, err
	}

	sessions := make([]*registry.Session, len(documents))
	for i, document := range documents {
		sessions[i] = document.toSession()
	}

	return sessions, nil
}

func (r *SessionRegistry) live(filter bson.M) bson.M {
	filter["status"] = bson.M{"$in": bson.A{
		string(registry.StatusActive),
		string(registry.StatusIdle),
	}}
	filter["expiresAt"] = bson.M{"$gt": r.options.Now()}

	return filter
}

func (r *SessionRegistry) liveHandle(handle string, now time.Time) bson.M {
	return bson.M{
		"connectionHandle": handle,
		"status":           bson.M{"$ne": string(registry.StatusDisconnected)},
		"expiresAt":        bson.M{"$gt": now},
	}
}

func dedupe(rooms []string) []string {
	seen := make(map[string]struct{}, len(rooms))
	unique := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if _, ok := seen[room]; ok {
			continue
		}

		seen[room] = struct{}{}
		unique = append(unique, room)
	}

	return unique
}
