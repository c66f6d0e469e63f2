package server

import (
	"github.com/fardale/chatrelay/pkg/database"
	"github.com/fardale/chatrelay/pkg/protocol"
)

// Router is the cross-cutting message-routing logic shared by all sessions:
// persist-then-forward for private messages, and presence-change broadcasts.
type Router struct {
	db       *database.DB
	registry *Registry
	metrics  *Metrics
}

// NewRouter creates a router over the given store and presence registry.
func NewRouter(db *database.DB, registry *Registry, metrics *Metrics) *Router {
	return &Router{
		db:       db,
		registry: registry,
		metrics:  metrics,
	}
}

// SendPrivate persists a private message and forwards it to the recipient's
// live session if one is registered.
//
// Self-messages are dropped silently before persistence. Persistence always
// happens before the delivery attempt; if persistence fails the error is
// returned for logging and no delivery is attempted — neither party gets a
// protocol response. Delivery itself is best effort: a write failure to an
// offline-but-registered recipient is not an error, the message remains
// discoverable through history.
func (rt *Router) SendPrivate(sender, recipient, content string) error {
	if sender == recipient {
		rt.metrics.RecordMessageRouted(routeDroppedSelf)
		return nil
	}

	if _, err := rt.db.AppendMessage(sender, recipient, content); err != nil {
		rt.metrics.RecordMessageRouted(routeFailed)
		return err
	}

	conn, ok := rt.registry.Lookup(recipient)
	if !ok {
		rt.metrics.RecordMessageRouted(routeStored)
		return nil
	}

	if err := conn.WriteLine(protocol.PrivateMsgFrame(sender, content)); err != nil {
		debugLog.Printf("Live delivery to %s failed: %v", recipient, err)
		rt.metrics.RecordMessageRouted(routeStored)
		return nil
	}

	rt.metrics.RecordMessageRouted(routeDelivered)
	return nil
}

// BroadcastPresence sends an ONLINE_UPDATE snapshot to every registered
// session. The snapshot content comes from the store's durable online
// flags. Unlike per-request contact lists, the broadcast excludes no one:
// every recipient gets the same payload, and the user whose login or
// logout triggered it appears with their new flag.
func (rt *Router) BroadcastPresence() {
	contacts, err := rt.db.Contacts("")
	if err != nil {
		errorLog.Printf("Failed to read contacts for presence broadcast: %v", err)
		return
	}

	entries := make([]protocol.Contact, len(contacts))
	for i, c := range contacts {
		entries[i] = protocol.Contact{Username: c.Username, Online: c.Online}
	}

	rt.registry.Broadcast(protocol.OnlineUpdateFrame(entries))
	rt.metrics.RecordPresenceBroadcast()
}
