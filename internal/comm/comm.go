package comm

import (
	"encoding/json"
	"time"
)

// NATS subjects shared by the services.
const (
	RoomEventsTopic    = "room.events"    // roomsvc broadcasts committed transitions
	SocketServiceTopic = "socket.service" // socketsvc asks roomsvc on behalf of a socket
	RoomServiceTopic   = "room.service"   // roomsvc answers a socket
)

// Room event types.
const (
	EventRegistryInitialized = "registry-initialized"
	EventRoomCreated         = "room-created"
	EventPlayerJoined        = "player-joined"
	EventGameEnded           = "game-ended"
)

type WSMessage struct {
	Type     string          `json:"type"` // e.g. "subscribe", "room-created"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid,omitempty"`
}

// RoomData is the client facing projection of a room account. u64 fields
// are strings so JavaScript clients do not lose precision.
type RoomData struct {
	RoomId        string   `json:"roomId"`
	Creator       string   `json:"creator"`
	StakingAmount string   `json:"stakingAmount"`
	Players       []string `json:"players"`
	State         string   `json:"state"`
	CreationTime  int64    `json:"creationTime"`
	Winner        *string  `json:"winner"`
	MaxPlayers    int      `json:"maxPlayers"`
}

type RegistryData struct {
	Address    string `json:"address"`
	TotalRooms string `json:"totalRooms"`
	Authority  string `json:"authority"`
}

// RoomEvent is published on RoomEventsTopic after a transition commits.
type RoomEvent struct {
	Type      string    `json:"type"`
	RoomId    uint64    `json:"room_id"`
	Actor     string    `json:"actor,omitempty"` // creator, joining player or winner
	Signature string    `json:"signature"`
	Version   uint64    `json:"version"` // account version the room data was read at
	Room      *RoomData `json:"room,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Socket message types.
const (
	MsgSubscribe       = "subscribe"
	MsgUnsubscribe     = "unsubscribe"
	MsgGetRoom         = "get-room"
	MsgGetRoomResponse = "get-room-response"
	MsgError           = "error"
)

// SubscribeRequest is sent by websocket clients to follow a room.
type SubscribeRequest struct {
	RoomId uint64 `json:"room_id"`
}

type ErrorData struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
