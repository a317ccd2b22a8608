package broker

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/room-services/internal/comm"
)

type sink struct {
	mu   sync.Mutex
	sent map[string][]*comm.WSMessage
}

func (s *sink) send(socketId string, m *comm.WSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = map[string][]*comm.WSMessage{}
	}
	s.sent[socketId] = append(s.sent[socketId], m)
	return nil
}

func rooms(m map[string][]string) func(string) ([]string, bool) {
	return func(roomId string) ([]string, bool) {
		s, ok := m[roomId]
		return s, ok
	}
}

func natsMsg(t *testing.T, m *comm.WSMessage) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return &nats.Msg{Subject: comm.RoomEventsTopic, Data: data}
}

func TestBroadcastRoomEvent(t *testing.T) {
	out := &sink{}
	b := NewBroker(nil, out.send, rooms(map[string][]string{"7": {"a", "b"}, "8": {"c"}}))

	ev, err := json.Marshal(comm.RoomEvent{Type: comm.EventPlayerJoined, RoomId: 7})
	require.NoError(t, err)
	b.handleMessages(natsMsg(t, &comm.WSMessage{Type: comm.EventPlayerJoined, Data: ev}))

	assert.Len(t, out.sent["a"], 1)
	assert.Len(t, out.sent["b"], 1)
	assert.Empty(t, out.sent["c"])
	assert.Equal(t, comm.EventPlayerJoined, out.sent["a"][0].Type)
}

func TestDirectReplyGoesToOneSocket(t *testing.T) {
	out := &sink{}
	b := NewBroker(nil, out.send, rooms(nil))

	b.handleMessages(natsMsg(t, &comm.WSMessage{Type: comm.MsgGetRoomResponse, Data: json.RawMessage(`{}`), SocketId: "a"}))

	require.Len(t, out.sent["a"], 1)
	assert.Empty(t, out.sent["a"][0].SocketId, "socket id is not echoed to the client")
}

func TestIgnoresUnknownAndMalformed(t *testing.T) {
	out := &sink{}
	b := NewBroker(nil, out.send, rooms(map[string][]string{"1": {"a"}}))

	b.handleMessages(&nats.Msg{Data: []byte("{")})
	b.handleMessages(natsMsg(t, &comm.WSMessage{Type: "init", SocketId: "a"}))
	b.handleMessages(natsMsg(t, &comm.WSMessage{Type: comm.EventRoomCreated, Data: json.RawMessage(`"x"`)}))
	b.handleMessages(natsMsg(t, &comm.WSMessage{Type: comm.EventRegistryInitialized, Data: json.RawMessage(`{}`)}))

	assert.Empty(t, out.sent)
}
