package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/room-services/internal/comm"
	"github.com/avvvet/room-services/internal/indexsvc/store"
)

// versionStore keeps the newest version per room, like the mongo filter does.
type versionStore struct {
	docs map[uint64]store.RoomDocument
	err  error
}

func (s *versionStore) Upsert(_ context.Context, doc store.RoomDocument) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if cur, ok := s.docs[doc.RoomID]; ok && cur.Version >= doc.Version {
		return false, nil
	}
	s.docs[doc.RoomID] = doc
	return true, nil
}

func payload(t *testing.T, ev comm.RoomEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	out, err := json.Marshal(comm.WSMessage{Type: ev.Type, Data: data})
	require.NoError(t, err)
	return out
}

func roomEvent(typ, state string, version uint64, players ...string) comm.RoomEvent {
	return comm.RoomEvent{
		Type:      typ,
		RoomId:    9,
		Version:   version,
		Timestamp: time.Now(),
		Room:      &comm.RoomData{RoomId: "9", State: state, Players: players, MaxPlayers: 2},
	}
}

func TestIndexKeepsNewestVersion(t *testing.T) {
	s := &versionStore{docs: map[uint64]store.RoomDocument{}}
	b := NewBroker(nil, s, time.Hour, time.Second)

	require.NoError(t, b.index(payload(t, roomEvent(comm.EventPlayerJoined, "full", 2, "a", "b"))))
	// redelivered older event
	require.NoError(t, b.index(payload(t, roomEvent(comm.EventRoomCreated, "open", 1, "a"))))

	doc := s.docs[9]
	assert.Equal(t, uint64(2), doc.Version)
	assert.Equal(t, "full", doc.State)
	assert.Nil(t, doc.ExpiresAt)

	require.NoError(t, b.index(payload(t, roomEvent(comm.EventGameEnded, "resolved", 3, "a", "b"))))
	assert.NotNil(t, s.docs[9].ExpiresAt)
}

func TestIndexSkipsRegistryEvents(t *testing.T) {
	s := &versionStore{docs: map[uint64]store.RoomDocument{}}
	b := NewBroker(nil, s, 0, time.Second)

	require.NoError(t, b.index(payload(t, comm.RoomEvent{Type: comm.EventRegistryInitialized})))
	assert.Empty(t, s.docs)
}

func TestIndexErrors(t *testing.T) {
	s := &versionStore{err: errors.New("mongo down")}
	b := NewBroker(nil, s, 0, time.Second)

	assert.Error(t, b.index([]byte("{")))
	assert.Error(t, b.index([]byte(`{"type":"room-created","data":"x"}`)))
	assert.EqualError(t, b.index(payload(t, roomEvent(comm.EventRoomCreated, "open", 1, "a"))), "mongo down")
}
