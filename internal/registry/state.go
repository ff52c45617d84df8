package registry

import (
	"github.com/ticketforge/ticket-registry/internal/domain"
)

// state holds the canonical ticket and listing records. Tickets are stored by
// value so the journal can capture cheap before-images. nextID is the
// monotonic allocator; it participates in the journal, so a failed mint
// rewinds it and ids stay dense.
type state struct {
	tickets  map[uint64]domain.Ticket
	listings map[uint64]domain.Listing
	nextID   uint64
}

func newState() *state {
	return &state{
		tickets:  make(map[uint64]domain.Ticket),
		listings: make(map[uint64]domain.Listing),
		nextID:   1,
	}
}

func (s *state) allocID(j *journal) uint64 {
	id := s.nextID
	s.nextID++
	j.record(func() { s.nextID = id })
	return id
}

func (s *state) ticket(id uint64) (domain.Ticket, bool) {
	t, ok := s.tickets[id]
	return t, ok
}

func (s *state) putTicket(j *journal, t domain.Ticket) {
	prev, existed := s.tickets[t.ID]
	j.record(func() {
		if existed {
			s.tickets[t.ID] = prev
		} else {
			delete(s.tickets, t.ID)
		}
	})
	s.tickets[t.ID] = t
}

func (s *state) deleteTicket(j *journal, id uint64) {
	prev, existed := s.tickets[id]
	if !existed {
		return
	}
	j.record(func() { s.tickets[id] = prev })
	delete(s.tickets, id)
}

func (s *state) listing(id uint64) (domain.Listing, bool) {
	l, ok := s.listings[id]
	return l, ok
}

func (s *state) putListing(j *journal, l domain.Listing) {
	prev, existed := s.listings[l.TicketID]
	j.record(func() {
		if existed {
			s.listings[l.TicketID] = prev
		} else {
			delete(s.listings, l.TicketID)
		}
	})
	s.listings[l.TicketID] = l
}

func (s *state) deleteListing(j *journal, id uint64) {
	prev, existed := s.listings[id]
	if !existed {
		return
	}
	j.record(func() { s.listings[id] = prev })
	delete(s.listings, id)
}
