package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/room-services/internal/comm"
	"github.com/avvvet/room-services/internal/roomsvc/service"
)

type RoomFetcher interface {
	FetchRoom(ctx context.Context, roomID uint64) (*comm.RoomData, error)
}

type Broker struct {
	Conn        *nats.Conn
	RoomService RoomFetcher
}

func NewBroker(nc *nats.Conn, roomService RoomFetcher) *Broker {
	return &Broker{
		Conn:        nc,
		RoomService: roomService,
	}
}

// PublishRoomEvent implements service.EventPublisher.
func (b *Broker) PublishRoomEvent(ev comm.RoomEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return b.Publish(comm.RoomEventsTopic, payload)
}

// handles message coming from socket
func (b *Broker) handleMessage(msgNat *nats.Msg) {
	msg := &comm.WSMessage{}
	if err := json.Unmarshal(msgNat.Data, msg); err != nil {
		log.Errorf("Error nats message %s", err)
		return
	}

	reply := b.respond(msg)
	if reply == nil {
		return
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}
	b.Publish(comm.RoomServiceTopic, payload)
}

// respond builds the answer to a socket request, nil when none is due.
func (b *Broker) respond(msg *comm.WSMessage) *comm.WSMessage {
	switch msg.Type {
	case comm.MsgGetRoom:
		var request comm.SubscribeRequest
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			return errorMessage(msg.SocketId, "malformed get-room request", "invalid_input")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		room, err := b.RoomService.FetchRoom(ctx, request.RoomId)
		if err != nil {
			log.Errorf("Error [RoomService.FetchRoom] %d: %s", request.RoomId, err)
			return errorMessage(msg.SocketId, err.Error(), service.Kind(err))
		}

		data, err := json.Marshal(room)
		if err != nil {
			log.Errorf("unable to marshal room %d for %s", request.RoomId, msg.SocketId)
			return nil
		}
		return &comm.WSMessage{Type: comm.MsgGetRoomResponse, Data: data, SocketId: msg.SocketId}
	default:
		log.Warnf("unknown socket message type %q", msg.Type)
		return nil
	}
}

func (b *Broker) SubscribeSocketService(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleMessage)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

func encodeEvent(ev comm.RoomEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&comm.WSMessage{Type: ev.Type, Data: data})
}

func errorMessage(socketId, message, kind string) *comm.WSMessage {
	data, _ := json.Marshal(comm.ErrorData{Message: message, Kind: kind})
	return &comm.WSMessage{Type: comm.MsgError, Data: data, SocketId: socketId}
}
