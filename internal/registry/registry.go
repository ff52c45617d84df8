// Package registry implements the ticket ownership and resale marketplace
// engine. Every operation is atomic: it either fully commits or leaves no
// trace, enforced by an undo journal replayed on any failure. State is owned
// exclusively by the Registry; collaborators mutate it only through the
// operations here and observe it through the event stream.
package registry

import (
	"sync"
	"time"

	"github.com/ticketforge/ticket-registry/internal/domain"
	"github.com/ticketforge/ticket-registry/internal/events"
)

// EscrowAccount holds an in-flight buy's attached payment until the payout
// legs complete, plus anything an admin has not yet withdrawn.
const EscrowAccount = domain.Account("registry:escrow")

type Registry struct {
	mu     sync.Mutex
	busy   bool
	paused bool
	seq    uint64

	params  domain.Params
	royalty domain.Royalty
	now     func() time.Time

	st      *state
	access  *AccessControl
	limits  *RateLimiter
	ledger  *Ledger
	emitter *events.Emitter
}

// New builds a registry with admin holding the ADMIN role. clock may be nil,
// in which case time.Now is used; tests inject a deterministic clock.
// emitter may be nil when no subscribers are wired.
func New(admin domain.Account, params domain.Params, clock func() time.Time, emitter *events.Emitter) *Registry {
	if clock == nil {
		clock = time.Now
	}
	params = clampParams(params)
	return &Registry{
		params:  params,
		now:     clock,
		st:      newState(),
		access:  NewAccessControl(admin),
		limits:  NewRateLimiter(params),
		ledger:  NewLedger(),
		emitter: emitter,
	}
}

// clampParams floors degenerate protocol constants that would otherwise
// divide by zero in the window index and the resale cap check.
func clampParams(p domain.Params) domain.Params {
	if p.BuyWindow < time.Second {
		p.BuyWindow = time.Second
	}
	if p.MaxResaleMultiple == 0 {
		p.MaxResaleMultiple = 1
	}
	return p
}

// Ledger exposes the fund ledger for deposits, balance queries, and receive
// hook registration. All balance mutation during operations stays internal.
func (r *Registry) Ledger() *Ledger { return r.ledger }

// EscrowBalance reports the funds currently held by the registry itself.
func (r *Registry) EscrowBalance() uint64 { return r.ledger.Balance(EscrowAccount) }

// emit stamps the commit sequence and delivers the event while r.mu is still
// held, so the stream order always matches commit order. Subscribers must not
// call back into the registry.
func (r *Registry) emit(ev domain.Event) {
	r.seq++
	ev.Seq = r.seq
	if r.emitter != nil {
		r.emitter.Emit(ev)
	}
}

// guard runs the entry checks shared by mutating operations: the reentrancy
// busy flag, then the pause switch (skipped for administrative operations),
// then the required role. Callers hold r.mu.
func (r *Registry) guard(caller domain.Account, role domain.Role, pausable bool) error {
	if r.busy {
		return domain.ErrReentrancy
	}
	if pausable && r.paused {
		return domain.ErrPaused
	}
	if role != "" && !r.access.Has(caller, role) {
		return domain.ErrUnauthorized
	}
	return nil
}

// Mint creates a ticket owned by to. The id allocator participates in the
// journal, so a failed mint consumes no id and ids stay dense.
func (r *Registry) Mint(caller, to domain.Account, eventID string, price uint64, eventDate time.Time, metadataRef string) (uint64, error) {
	r.mu.Lock()
	if err := r.guard(caller, domain.RoleMinter, true); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	now := r.now()
	switch {
	case to == domain.ZeroAccount:
		r.mu.Unlock()
		return 0, domain.ErrInvalidRecipient
	case price < r.params.MinResalePrice:
		r.mu.Unlock()
		return 0, domain.ErrPriceTooLow
	case !eventDate.After(now):
		r.mu.Unlock()
		return 0, domain.ErrEventInPast
	}

	j := &journal{}
	if err := r.limits.noteMint(j, to); err != nil {
		j.revert()
		r.mu.Unlock()
		return 0, err
	}
	id := r.st.allocID(j)
	r.st.putTicket(j, domain.Ticket{
		ID:          id,
		Owner:       to,
		EventID:     eventID,
		Price:       price,
		EventDate:   eventDate,
		MetadataRef: metadataRef,
	})
	r.emit(domain.NewEvent(domain.EventMinted, id, caller, now, map[string]any{
		"to":         string(to),
		"event_id":   eventID,
		"price":      price,
		"event_date": eventDate.Format(time.RFC3339),
	}))
	r.mu.Unlock()
	return id, nil
}

// exceedsCap reports price > ref*multiple without computing the product,
// which can wrap for large reference prices.
func exceedsCap(price, ref, multiple uint64) bool {
	q := price / multiple
	return q > ref || (q == ref && price%multiple != 0)
}

// List opens a resale offer for a ticket the caller owns. The price must sit
// inside the protocol bounds against the mint-time reference price, and the
// per-ticket cooldown must have elapsed since the previous listing.
func (r *Registry) List(caller domain.Account, ticketID, price uint64) error {
	r.mu.Lock()
	if err := r.guard(caller, "", true); err != nil {
		r.mu.Unlock()
		return err
	}
	now := r.now()
	t, ok := r.st.ticket(ticketID)
	var err error
	switch {
	case !ok:
		err = domain.ErrTicketNotFound
	case t.Owner != caller:
		err = domain.ErrNotOwner
	case t.Used:
		err = domain.ErrAlreadyUsed
	case !now.Before(t.EventDate):
		err = domain.ErrEventAlreadyOccurred
	case price < r.params.MinResalePrice:
		err = domain.ErrPriceTooLow
	case !t.LastResaleTime.IsZero() && now.Before(t.LastResaleTime.Add(r.params.ResaleCooldown)):
		err = domain.ErrCooldownActive
	case exceedsCap(price, t.Price, r.params.MaxResaleMultiple):
		err = domain.ErrPriceExceedsCap
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}

	j := &journal{}
	r.st.putListing(j, domain.Listing{TicketID: ticketID, Seller: caller, Price: price})
	t.ForSale = true
	t.LastResaleTime = now
	r.st.putTicket(j, t)
	r.emit(domain.NewEvent(domain.EventListed, ticketID, caller, now, map[string]any{
		"seller": string(caller),
		"price":  price,
	}))
	r.mu.Unlock()
	return nil
}

// Cancel withdraws an active listing. Only the seller or an admin may
// cancel; a second cancel fails because the listing is gone.
func (r *Registry) Cancel(caller domain.Account, ticketID uint64) error {
	r.mu.Lock()
	if err := r.guard(caller, "", true); err != nil {
		r.mu.Unlock()
		return err
	}
	l, ok := r.st.listing(ticketID)
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotListed
	}
	if caller != l.Seller && !r.access.Has(caller, domain.RoleAdmin) {
		r.mu.Unlock()
		return domain.ErrUnauthorized
	}

	j := &journal{}
	r.st.deleteListing(j, ticketID)
	if t, ok := r.st.ticket(ticketID); ok {
		t.ForSale = false
		r.st.putTicket(j, t)
	}
	r.emit(domain.NewEvent(domain.EventListingCancelled, ticketID, caller, r.now(), map[string]any{
		"seller": string(l.Seller),
	}))
	r.mu.Unlock()
	return nil
}

// Buy settles an active listing with the attached payment amount paid, drawn
// from the buyer's ledger balance. The listing is removed before any funds
// move; ownership changes only after all payout legs succeed. Any failure,
// including a misbehaving recipient, reverts the whole purchase.
func (r *Registry) Buy(caller domain.Account, ticketID, paid uint64) error {
	r.mu.Lock()
	if err := r.guard(caller, "", true); err != nil {
		r.mu.Unlock()
		return err
	}
	now := r.now()
	t, ok := r.st.ticket(ticketID)
	if !ok {
		r.mu.Unlock()
		return domain.ErrTicketNotFound
	}
	l, listed := r.st.listing(ticketID)
	var err error
	switch {
	case t.Used:
		err = domain.ErrAlreadyUsed
	case !listed || !t.ForSale:
		err = domain.ErrNotListed
	case paid < l.Price:
		err = domain.ErrInsufficientFunds
	case !now.Before(t.EventDate):
		err = domain.ErrEventAlreadyOccurred
	case caller == l.Seller:
		err = domain.ErrSelfPurchase
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}

	j := &journal{}
	if err := r.limits.noteBuy(j, caller, now); err != nil {
		j.revert()
		r.mu.Unlock()
		return err
	}

	var royalty uint64
	if r.royalty.Recipient != domain.ZeroAccount && r.royalty.Bps > 0 {
		royalty = l.Price * r.royalty.Bps / 10000
	}
	payout := l.Price - royalty
	refund := paid - l.Price

	// State mutation completes before any fund movement: the listing is
	// gone by the time untrusted receive hooks run.
	r.st.deleteListing(j, ticketID)
	t.ForSale = false
	r.st.putTicket(j, t)
	if err := r.ledger.debit(j, caller, paid); err != nil {
		j.revert()
		r.mu.Unlock()
		return err
	}
	r.ledger.credit(j, EscrowAccount, paid)

	r.busy = true
	r.mu.Unlock()

	err = r.ledger.transfer(j, EscrowAccount, r.royalty.Recipient, royalty)
	if err == nil {
		err = r.ledger.transfer(j, EscrowAccount, l.Seller, payout)
	}
	if err == nil {
		err = r.ledger.transfer(j, EscrowAccount, caller, refund)
	}

	r.mu.Lock()
	r.busy = false
	if err != nil {
		j.revert()
		r.mu.Unlock()
		return err
	}

	t.Owner = caller
	t.LastResaleTime = time.Time{} // purchase clears the resale cooldown
	r.st.putTicket(j, t)
	r.emit(domain.NewEvent(domain.EventSold, ticketID, caller, now, map[string]any{
		"buyer":   string(caller),
		"seller":  string(l.Seller),
		"price":   l.Price,
		"royalty": royalty,
		"refund":  refund,
	}))
	r.mu.Unlock()
	return nil
}

// Validate marks a ticket used at the gate. The transition is one-way and
// terminal: the listing record is deleted outright so no later cancel or buy
// can observe it.
func (r *Registry) Validate(caller domain.Account, ticketID uint64) error {
	r.mu.Lock()
	if err := r.guard(caller, domain.RoleValidator, true); err != nil {
		r.mu.Unlock()
		return err
	}
	t, ok := r.st.ticket(ticketID)
	if !ok {
		r.mu.Unlock()
		return domain.ErrTicketNotFound
	}
	if t.Used {
		r.mu.Unlock()
		return domain.ErrAlreadyScanned
	}

	j := &journal{}
	r.st.deleteListing(j, ticketID)
	t.Used = true
	t.ForSale = false
	r.st.putTicket(j, t)
	r.emit(domain.NewEvent(domain.EventValidated, ticketID, caller, r.now(), map[string]any{
		"owner": string(t.Owner),
	}))
	r.mu.Unlock()
	return nil
}

// Burn removes a ticket and any active listing for it. Administrative, so it
// works while paused.
func (r *Registry) Burn(caller domain.Account, ticketID uint64) error {
	r.mu.Lock()
	if err := r.guard(caller, domain.RoleAdmin, false); err != nil {
		r.mu.Unlock()
		return err
	}
	t, ok := r.st.ticket(ticketID)
	if !ok {
		r.mu.Unlock()
		return domain.ErrTicketNotFound
	}

	j := &journal{}
	r.st.deleteListing(j, ticketID)
	r.st.deleteTicket(j, ticketID)
	r.emit(domain.NewEvent(domain.EventBurned, ticketID, caller, r.now(), map[string]any{
		"owner": string(t.Owner),
	}))
	r.mu.Unlock()
	return nil
}

// SetRoyalty updates the global royalty split.
func (r *Registry) SetRoyalty(caller, recipient domain.Account, bps uint64) error {
	r.mu.Lock()
	if err := r.guard(caller, domain.RoleAdmin, false); err != nil {
		r.mu.Unlock()
		return err
	}
	if bps > domain.MaxRoyaltyBps {
		r.mu.Unlock()
		return domain.ErrInvalidRoyalty
	}
	if bps > 0 && recipient == domain.ZeroAccount {
		r.mu.Unlock()
		return domain.ErrInvalidRecipient
	}
	r.royalty = domain.Royalty{Recipient: recipient, Bps: bps}
	r.emit(domain.NewEvent(domain.EventRoyaltyUpdated, 0, caller, r.now(), map[string]any{
		"recipient": string(recipient),
		"bps":       bps,
	}))
	r.mu.Unlock()
	return nil
}

// Pause halts mint, list, cancel, buy, and validate. Administrative
// operations, including Unpause, keep working.
func (r *Registry) Pause(caller domain.Account) error {
	r.mu.Lock()
	if err := r.guard(caller, domain.RoleAdmin, false); err != nil {
		r.mu.Unlock()
		return err
	}
	r.paused = true
	r.emit(domain.NewEvent(domain.EventPaused, 0, caller, r.now(), nil))
	r.mu.Unlock()
	return nil
}

func (r *Registry) Unpause(caller domain.Account) error {
	r.mu.Lock()
	if err := r.guard(caller, domain.RoleAdmin, false); err != nil {
		r.mu.Unlock()
		return err
	}
	r.paused = false
	r.emit(domain.NewEvent(domain.EventUnpaused, 0, caller, r.now(), nil))
	r.mu.Unlock()
	return nil
}

// GrantRole gives account a role. ADMIN only; admin can re-grant ADMIN to
// itself or others indefinitely.
func (r *Registry) GrantRole(caller, account domain.Account, role domain.Role) error {
	r.mu.Lock()
	if err := r.guard(caller, domain.RoleAdmin, false); err != nil {
		r.mu.Unlock()
		return err
	}
	if account == domain.ZeroAccount {
		r.mu.Unlock()
		return domain.ErrInvalidRecipient
	}
	j := &journal{}
	r.access.grant(j, account, role)
	r.emit(domain.NewEvent(domain.EventRoleGranted, 0, caller, r.now(), map[string]any{
		"account": string(account),
		"role":    string(role),
	}))
	r.mu.Unlock()
	return nil
}

func (r *Registry) RevokeRole(caller, account domain.Account, role domain.Role) error {
	r.mu.Lock()
	if err := r.guard(caller, domain.RoleAdmin, false); err != nil {
		r.mu.Unlock()
		return err
	}
	j := &journal{}
	r.access.revoke(j, account, role)
	r.emit(domain.NewEvent(domain.EventRoleRevoked, 0, caller, r.now(), map[string]any{
		"account": string(account),
		"role":    string(role),
	}))
	r.mu.Unlock()
	return nil
}

// Withdraw sweeps the registry escrow balance to the calling admin, under
// the same reentrancy guard as Buy.
func (r *Registry) Withdraw(caller domain.Account) (uint64, error) {
	r.mu.Lock()
	if err := r.guard(caller, domain.RoleAdmin, false); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	amount := r.ledger.Balance(EscrowAccount)
	if amount == 0 {
		r.mu.Unlock()
		return 0, nil
	}

	j := &journal{}
	r.busy = true
	r.mu.Unlock()

	err := r.ledger.transfer(j, EscrowAccount, caller, amount)

	r.mu.Lock()
	r.busy = false
	if err != nil {
		j.revert()
		r.mu.Unlock()
		return 0, err
	}
	r.emit(domain.NewEvent(domain.EventWithdrawn, 0, caller, r.now(), map[string]any{
		"amount": amount,
	}))
	r.mu.Unlock()
	return amount, nil
}

// TicketInfo returns the read-model view of a ticket, including the active
// listing when one exists.
func (r *Registry) TicketInfo(ticketID uint64) (domain.TicketInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.st.ticket(ticketID)
	if !ok {
		return domain.TicketInfo{}, domain.ErrTicketNotFound
	}
	info := domain.TicketInfo{
		ID:        t.ID,
		Owner:     t.Owner,
		EventID:   t.EventID,
		Price:     t.Price,
		EventDate: t.EventDate,
		ForSale:   t.ForSale,
		Used:      t.Used,
	}
	if l, ok := r.st.listing(ticketID); ok {
		info.Listing = &l
	}
	return info, nil
}

func (r *Registry) OwnerOf(ticketID uint64) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.st.ticket(ticketID)
	if !ok {
		return domain.ZeroAccount, domain.ErrTicketNotFound
	}
	return t.Owner, nil
}

func (r *Registry) HasRole(account domain.Account, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.access.Has(account, role)
}

func (r *Registry) RolesOf(account domain.Account) []domain.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.access.RolesOf(account)
}

func (r *Registry) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Registry) Royalty() domain.Royalty {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.royalty
}
