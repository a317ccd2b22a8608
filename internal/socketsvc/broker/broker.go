package broker

import (
	"encoding/json"
	"strconv"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/room-services/internal/comm"
)

type Broker struct {
	Conn           *nats.Conn
	Send           func(string, *comm.WSMessage) error
	GetRoomSockets func(string) ([]string, bool)
}

func NewBroker(conn *nats.Conn, fncSend func(string, *comm.WSMessage) error, fncGetRoomSockets func(string) ([]string, bool)) *Broker {
	return &Broker{
		Conn:           conn,
		Send:           fncSend,
		GetRoomSockets: fncGetRoomSockets,
	}
}

// consume messages from room service
func (b *Broker) Subscribe(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleMessages)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// publish message to room service
func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

// handleMessages receive message from room service
func (b *Broker) handleMessages(msgNats *nats.Msg) {
	message := &comm.WSMessage{}
	if err := json.Unmarshal(msgNats.Data, message); err != nil {
		log.Errorf("Error %s", err)
		return
	}

	switch message.Type {
	case comm.MsgGetRoomResponse, comm.MsgError:
		b.sendMessage(message)
	case comm.EventRegistryInitialized:
		// not tied to a room
	case comm.EventRoomCreated, comm.EventPlayerJoined, comm.EventGameEnded:
		b.broadcast(message)
	default:
		log.Errorf("Unknown message %q on %s", message.Type, msgNats.Subject)
	}
}

// send socket message to the web client
func (b *Broker) sendMessage(m *comm.WSMessage) {
	socketId := m.SocketId
	m.SocketId = ""
	if err := b.Send(socketId, m); err != nil {
		log.Warnf("unable to deliver %s to socket %s: %v", m.Type, socketId, err)
	}
}

// broadcast fans a room event out to every socket following the room
func (b *Broker) broadcast(m *comm.WSMessage) {
	var ev comm.RoomEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		log.Errorf("Error malformed room event: %s", err)
		return
	}

	sockets, ok := b.GetRoomSockets(strconv.FormatUint(ev.RoomId, 10))
	if !ok {
		return
	}
	for _, socketId := range sockets {
		if err := b.Send(socketId, m); err != nil {
			log.Warnf("unable to deliver %s to socket %s: %v", m.Type, socketId, err)
		}
	}
}
