package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMinted           EventType = "ticket.minted"
	EventListed           EventType = "ticket.listed"
	EventListingCancelled EventType = "ticket.listing_cancelled"
	EventSold             EventType = "ticket.sold"
	EventValidated        EventType = "ticket.validated"
	EventBurned           EventType = "ticket.burned"
	EventPaused           EventType = "registry.paused"
	EventUnpaused         EventType = "registry.unpaused"
	EventRoyaltyUpdated   EventType = "registry.royalty_updated"
	EventRoleGranted      EventType = "registry.role_granted"
	EventRoleRevoked      EventType = "registry.role_revoked"
	EventWithdrawn        EventType = "registry.withdrawn"
)

// Event is the durable audit record emitted after every successful mutating
// operation. Seq is the registry's commit sequence: strictly increasing, with
// no gaps, in exactly the order operations committed. Downstream consumers
// must treat the event stream, not their own store, as the source of truth
// for ownership.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	Seq      uint64         `json:"seq"`
	Type     EventType      `json:"type"`
	TicketID uint64         `json:"ticket_id,omitempty"`
	Actor    Account        `json:"actor"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

// NewEvent stamps a fresh event at the engine clock time.
func NewEvent(typ EventType, ticketID uint64, actor Account, at time.Time, data map[string]any) Event {
	return Event{
		ID:       uuid.New(),
		Type:     typ,
		TicketID: ticketID,
		Actor:    actor,
		At:       at,
		Data:     data,
	}
}
