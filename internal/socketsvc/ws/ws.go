package ws

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/room-services/internal/comm"
)

const writeWait = 10 * time.Second

var ErrUnknownSocket = errors.New("unknown socket")

type Publisher interface {
	Publish(topic string, payload []byte) error
}

// socket serializes writes, gorilla connections allow one writer at a time.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

type Ws struct {
	connMap sync.Map // to keep track of socket connection with socketId
	roomMap sync.Map // to keep track of roomId with socketId
	Broker  Publisher
}

func NewWs() *Ws {
	return &Ws{}
}

// handle socket message from web clients
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) {
	switch message.Type {
	case comm.MsgSubscribe:
		s.handleSubscribe(socketId, message)
	case comm.MsgUnsubscribe:
		roomId, ok := s.GetRoom(socketId)
		if !ok {
			s.SendError(socketId, "not subscribed to a room")
			return
		}
		s.roomMap.Delete(socketId)
		log.Infof("socket %s unsubscribed from room %s", socketId, roomId)
	case comm.MsgGetRoom:
		s.forward(socketId, message)
	default:
		log.Warnf("unknown event received: %s", message.Type)
		s.SendError(socketId, "unknown message type "+message.Type)
	}
}

// handleSubscribe follows a room and asks the room service for its current
// state, later changes arrive as room events.
func (s *Ws) handleSubscribe(socketId string, msg *comm.WSMessage) {
	var payload comm.SubscribeRequest
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.RoomId == 0 {
		log.Errorf("Error: invalid subscribe payload from %s: %v", socketId, err)
		s.SendError(socketId, "subscribe needs a positive room_id")
		return
	}

	s.StoreRoom(socketId, strconv.FormatUint(payload.RoomId, 10))
	log.Infof("socket %s subscribed to room %d", socketId, payload.RoomId)

	snapshot := &comm.WSMessage{Type: comm.MsgGetRoom, Data: msg.Data}
	s.forward(socketId, snapshot)
}

func (s *Ws) forward(socketId string, msg *comm.WSMessage) {
	// Update message with socket ID
	msg.SocketId = socketId

	bytes, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Failed to marshal WSMessage for NATS: %v", err)
		return
	}

	topic := comm.SocketServiceTopic
	if err := s.Broker.Publish(topic, bytes); err != nil {
		log.Errorf("Failed to publish to NATS topic %s: %v", topic, err)
		s.SendError(socketId, "room service unavailable")
	}
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, &socket{conn: conn})
}

// Send writes m to the socket as JSON.
func (s *Ws) Send(socketId string, m *comm.WSMessage) error {
	v, ok := s.connMap.Load(socketId)
	if !ok {
		return ErrUnknownSocket
	}
	sock := v.(*socket)

	sock.mu.Lock()
	defer sock.mu.Unlock()
	sock.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sock.conn.WriteJSON(m)
}

func (s *Ws) SendError(socketId, message string) {
	data, _ := json.Marshal(comm.ErrorData{Message: message})
	if err := s.Send(socketId, &comm.WSMessage{Type: comm.MsgError, Data: data}); err != nil {
		log.Errorf("Failed to send error message to %s: %v", socketId, err)
	}
}

func (s *Ws) StoreRoom(socketId string, roomId string) {
	s.roomMap.Store(socketId, roomId)
}

func (s *Ws) GetRoom(socketId string) (string, bool) {
	room, ok := s.roomMap.Load(socketId)
	if !ok {
		return "", false
	}
	return room.(string), true
}

func (s *Ws) GetRoomSockets(roomId string) ([]string, bool) {
	var sockets []string
	found := false

	s.roomMap.Range(func(key, value interface{}) bool {
		if value.(string) == roomId {
			sockets = append(sockets, key.(string))
			found = true
		}
		return true // continue iterating
	})

	return sockets, found
}

// HandleDisconnect forgets the socket and its room subscription.
func (s *Ws) HandleDisconnect(socketId string) {
	s.connMap.Delete(socketId)
	s.roomMap.Delete(socketId)
}
