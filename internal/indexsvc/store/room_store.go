package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/avvvet/room-services/internal/comm"
	"github.com/avvvet/room-services/internal/db"
)

const RoomsCollection = "rooms"

// RoomDocument is the indexed copy of a room, kept at the newest account
// version seen on room.events.
type RoomDocument struct {
	RoomID        uint64     `bson:"room_id"`
	Creator       string     `bson:"creator"`
	StakingAmount string     `bson:"staking_amount"`
	Players       []string   `bson:"players"`
	State         string     `bson:"state"`
	CreationTime  int64      `bson:"creation_time"`
	Winner        *string    `bson:"winner,omitempty"`
	MaxPlayers    int        `bson:"max_players"`
	Version       uint64     `bson:"version"`
	LastEvent     string     `bson:"last_event"`
	Signature     string     `bson:"signature,omitempty"`
	UpdatedAt     time.Time  `bson:"updated_at"`
	ExpiresAt     *time.Time `bson:"expires_at,omitempty"`
}

// DocumentFromEvent projects a room event. Events that carry no room, such as
// registry-initialized, report false. Resolved rooms get an expiry resolvedTTL
// after the event when resolvedTTL is positive.
func DocumentFromEvent(ev comm.RoomEvent, resolvedTTL time.Duration) (RoomDocument, bool) {
	if ev.Room == nil || ev.RoomId == 0 {
		return RoomDocument{}, false
	}

	doc := RoomDocument{
		RoomID:        ev.RoomId,
		Creator:       ev.Room.Creator,
		StakingAmount: ev.Room.StakingAmount,
		Players:       append([]string{}, ev.Room.Players...),
		State:         ev.Room.State,
		CreationTime:  ev.Room.CreationTime,
		Winner:        ev.Room.Winner,
		MaxPlayers:    ev.Room.MaxPlayers,
		Version:       ev.Version,
		LastEvent:     ev.Type,
		Signature:     ev.Signature,
		UpdatedAt:     ev.Timestamp.UTC(),
	}
	if doc.State == "resolved" && resolvedTTL > 0 {
		at := doc.UpdatedAt.Add(resolvedTTL)
		doc.ExpiresAt = &at
	}
	return doc, true
}

// Room returns the document in the shape the room service answers with.
func (d RoomDocument) Room() comm.RoomData {
	return comm.RoomData{
		RoomId:        strconv.FormatUint(d.RoomID, 10),
		Creator:       d.Creator,
		StakingAmount: d.StakingAmount,
		Players:       d.Players,
		State:         d.State,
		CreationTime:  d.CreationTime,
		Winner:        d.Winner,
		MaxPlayers:    d.MaxPlayers,
	}
}

type RoomStore struct {
	coll *mongo.Collection
}

func NewRoomStore(database *mongo.Database) *RoomStore {
	return &RoomStore{coll: database.Collection(RoomsCollection)}
}

// EnsureIndexes creates the unique room_id index, the listing index and the
// expires_at TTL index.
func (s *RoomStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "room_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "state", Value: 1}, {Key: "room_id", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create room indexes: %w", err)
	}

	if err := db.CreateTTLIndexForCollection(ctx, s.coll.Database(), RoomsCollection); err != nil {
		return fmt.Errorf("create ttl index: %w", err)
	}
	return nil
}

// Upsert stores doc unless a document at the same or a newer version is
// already there. It reports whether doc was written.
func (s *RoomStore) Upsert(ctx context.Context, doc RoomDocument) (bool, error) {
	filter := bson.M{
		"room_id": doc.RoomID,
		"version": bson.M{"$lt": doc.Version},
	}

	res, err := s.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		// the filter missed because a newer version is stored, and the
		// upsert collided with it on room_id
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("upsert room %d: %w", doc.RoomID, err)
	}

	return res.MatchedCount > 0 || res.UpsertedCount > 0, nil
}

// List returns rooms newest first, optionally filtered by state.
func (s *RoomStore) List(ctx context.Context, state string, limit int64) ([]RoomDocument, error) {
	filter := bson.M{}
	if state != "" {
		filter["state"] = state
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "room_id", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find rooms: %w", err)
	}
	defer cursor.Close(ctx)

	rooms := []RoomDocument{}
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

// Get returns a single room, or mongo.ErrNoDocuments.
func (s *RoomStore) Get(ctx context.Context, roomID uint64) (*RoomDocument, error) {
	var doc RoomDocument
	if err := s.coll.FindOne(ctx, bson.M{"room_id": roomID}).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
