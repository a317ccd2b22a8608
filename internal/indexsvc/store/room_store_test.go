package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/room-services/internal/comm"
)

func event(typ, state string, version uint64) comm.RoomEvent {
	return comm.RoomEvent{
		Type:      typ,
		RoomId:    4,
		Actor:     "bob",
		Signature: "sig",
		Version:   version,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Room: &comm.RoomData{
			RoomId:        "4",
			Creator:       "alice",
			StakingAmount: "1000",
			Players:       []string{"alice", "bob"},
			State:         state,
			CreationTime:  1700000000,
			MaxPlayers:    2,
		},
	}
}

func TestDocumentFromEvent(t *testing.T) {
	doc, ok := DocumentFromEvent(event(comm.EventPlayerJoined, "full", 2), time.Hour)
	require.True(t, ok)

	assert.Equal(t, uint64(4), doc.RoomID)
	assert.Equal(t, uint64(2), doc.Version)
	assert.Equal(t, comm.EventPlayerJoined, doc.LastEvent)
	assert.Equal(t, []string{"alice", "bob"}, doc.Players)
	assert.Nil(t, doc.ExpiresAt, "only resolved rooms expire")

	room := doc.Room()
	assert.Equal(t, "4", room.RoomId)
	assert.Equal(t, "1000", room.StakingAmount)
	assert.Equal(t, "full", room.State)
}

func TestResolvedRoomsExpire(t *testing.T) {
	ev := event(comm.EventGameEnded, "resolved", 3)
	winner := "bob"
	ev.Room.Winner = &winner

	doc, ok := DocumentFromEvent(ev, 24*time.Hour)
	require.True(t, ok)
	require.NotNil(t, doc.ExpiresAt)
	assert.Equal(t, ev.Timestamp.Add(24*time.Hour), *doc.ExpiresAt)
	assert.Equal(t, "bob", *doc.Room().Winner)

	doc, _ = DocumentFromEvent(ev, 0)
	assert.Nil(t, doc.ExpiresAt)
}

func TestEventsWithoutRoomAreSkipped(t *testing.T) {
	_, ok := DocumentFromEvent(comm.RoomEvent{Type: comm.EventRegistryInitialized}, time.Hour)
	assert.False(t, ok)
}

func TestProjectionDoesNotAliasPlayers(t *testing.T) {
	ev := event(comm.EventRoomCreated, "open", 1)
	doc, _ := DocumentFromEvent(ev, 0)
	ev.Room.Players[0] = "mallory"
	assert.Equal(t, "alice", doc.Players[0])
}
