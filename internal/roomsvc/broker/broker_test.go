package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/room-services/internal/comm"
	"github.com/avvvet/room-services/internal/roomsvc/service"
)

type fakeRooms map[uint64]*comm.RoomData

func (f fakeRooms) FetchRoom(ctx context.Context, roomID uint64) (*comm.RoomData, error) {
	if r, ok := f[roomID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %d", service.ErrRoomNotFound, roomID)
}

func request(t *testing.T, typ string, data any) *comm.WSMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &comm.WSMessage{Type: typ, Data: raw, SocketId: "sock-1"}
}

func TestRespondGetRoom(t *testing.T) {
	b := NewBroker(nil, fakeRooms{4: {RoomId: "4", State: "open", Players: []string{}}})

	reply := b.respond(request(t, comm.MsgGetRoom, comm.SubscribeRequest{RoomId: 4}))
	require.NotNil(t, reply)
	assert.Equal(t, comm.MsgGetRoomResponse, reply.Type)
	assert.Equal(t, "sock-1", reply.SocketId)

	var room comm.RoomData
	require.NoError(t, json.Unmarshal(reply.Data, &room))
	assert.Equal(t, "4", room.RoomId)
}

func TestRespondErrors(t *testing.T) {
	b := NewBroker(nil, fakeRooms{})

	reply := b.respond(request(t, comm.MsgGetRoom, comm.SubscribeRequest{RoomId: 9}))
	require.NotNil(t, reply)
	assert.Equal(t, comm.MsgError, reply.Type)

	var e comm.ErrorData
	require.NoError(t, json.Unmarshal(reply.Data, &e))
	assert.Equal(t, "room_not_found", e.Kind)

	reply = b.respond(&comm.WSMessage{Type: comm.MsgGetRoom, Data: json.RawMessage(`"x"`), SocketId: "s"})
	require.NotNil(t, reply)
	assert.Equal(t, comm.MsgError, reply.Type)

	assert.Nil(t, b.respond(&comm.WSMessage{Type: "init"}))
}

func TestEncodeEvent(t *testing.T) {
	payload, err := encodeEvent(comm.RoomEvent{Type: comm.EventPlayerJoined, RoomId: 3, Version: 2})
	require.NoError(t, err)

	var msg comm.WSMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, comm.EventPlayerJoined, msg.Type)

	var ev comm.RoomEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, uint64(3), ev.RoomId)
	assert.Equal(t, uint64(2), ev.Version)
}
