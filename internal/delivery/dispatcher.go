package delivery

import (
	"log"

	"supportchat-ws/internal/domain"
	"supportchat-ws/internal/hub"
)

// Relay forwards committed events to other instances.
type Relay interface {
	Publish(event domain.Event)
}

// EventDispatcher is the service's event sink: local fan-out through the hub,
// then the relay for other instances.
type EventDispatcher struct {
	hub    *hub.Hub
	relay  Relay
	origin string
}

func NewEventDispatcher(h *hub.Hub, relay Relay, origin string) *EventDispatcher {
	return &EventDispatcher{hub: h, relay: relay, origin: origin}
}

func (d *EventDispatcher) Publish(event domain.Event) {
	if event.Origin == "" {
		event.Origin = d.origin
	}
	d.hub.BroadcastEvent(event)
	if d.relay != nil {
		d.relay.Publish(event)
	}
}

// HandleRemoteEvent re-broadcasts an event produced by another instance.
func (d *EventDispatcher) HandleRemoteEvent(event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in HandleRemoteEvent: %v", r)
		}
	}()

	if event.Origin == d.origin {
		return
	}
	d.hub.BroadcastEvent(event)
}
