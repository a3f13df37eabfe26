package gateway

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/nanobot/pkg/registry"
	"github.com/rs/zerolog"
)

// Broadcast event names
const (
	EventProviderStatus = "registry.status"
	EventTick           = "tick"
	EventShutdown       = "server.shutdown"
)

// EventBroadcaster pushes server events to authenticated clients
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast sends an event to all authenticated clients
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.BroadcastMessage(EventMessage{Event: event, Data: data})
}

// BroadcastMessage stamps msg and sends it to all authenticated clients
func (b *EventBroadcaster) BroadcastMessage(msg EventMessage) {
	msg = b.stamp(msg)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Msg("Failed to marshal event")
		return
	}

	clients := b.clients.GetAuthenticatedClients()
	if len(clients) == 0 {
		b.logger.Debug().
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Msg("No authenticated clients to broadcast to")
		return
	}

	sent, failed := 0, 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Msg("Failed to broadcast to client")
			failed++
			continue
		}
		sent++
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("success", sent).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

// SendTo stamps msg and sends it to one client
func (b *EventBroadcaster) SendTo(clientID string, msg EventMessage) error {
	client, ok := b.clients.Get(clientID)
	if !ok {
		return fmt.Errorf("client %s is not connected", clientID)
	}
	return client.WriteJSON(b.stamp(msg))
}

// ProviderStatusListener publishes registry transitions as registry.status
// events; pass it to registry.WithStatusListener.
func (b *EventBroadcaster) ProviderStatusListener() func(registry.StatusChange) {
	return func(change registry.StatusChange) {
		b.Broadcast(EventProviderStatus, change)
	}
}

func (b *EventBroadcaster) stamp(msg EventMessage) EventMessage {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = int64(atomic.AddUint64(&b.seq, 1))
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	return msg
}
