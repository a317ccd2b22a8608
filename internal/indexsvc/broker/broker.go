package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/room-services/internal/comm"
	"github.com/avvvet/room-services/internal/indexsvc/store"
)

type Indexer interface {
	Upsert(ctx context.Context, doc store.RoomDocument) (bool, error)
}

type Broker struct {
	Conn         *nats.Conn
	Store        Indexer
	ResolvedTTL  time.Duration
	WriteTimeout time.Duration
}

func NewBroker(conn *nats.Conn, s Indexer, resolvedTTL, writeTimeout time.Duration) *Broker {
	return &Broker{
		Conn:         conn,
		Store:        s,
		ResolvedTTL:  resolvedTTL,
		WriteTimeout: writeTimeout,
	}
}

// QueueSubscribe consumes room events, each event reaches one member of the
// queue group.
func (b *Broker) QueueSubscribe(topic, queue string) (*nats.Subscription, error) {
	return b.Conn.QueueSubscribe(topic, queue, b.handleMessage)
}

func (b *Broker) handleMessage(msgNats *nats.Msg) {
	if err := b.index(msgNats.Data); err != nil {
		log.Errorf("Error indexing message on %s: %s", msgNats.Subject, err)
	}
}

func (b *Broker) index(data []byte) error {
	msg := &comm.WSMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return err
	}

	var ev comm.RoomEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return fmt.Errorf("malformed %s event: %w", msg.Type, err)
	}

	doc, ok := store.DocumentFromEvent(ev, b.ResolvedTTL)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.WriteTimeout)
	defer cancel()

	written, err := b.Store.Upsert(ctx, doc)
	if err != nil {
		return err
	}
	if !written {
		log.Debugf("room %d version %d is stale, skipped", doc.RoomID, doc.Version)
		return nil
	}

	log.Infof("indexed room %d at version %d (%s)", doc.RoomID, doc.Version, ev.Type)
	return nil
}
