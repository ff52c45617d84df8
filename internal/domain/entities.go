package domain

import "time"

// Account identifies a wallet-controlled caller. The registry never
// interprets it beyond equality checks.
type Account string

// ZeroAccount is the null recipient, rejected by mint.
const ZeroAccount Account = ""

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleMinter    Role = "MINTER"
	RoleValidator Role = "VALIDATOR"
)

// Ticket is the unit asset tracked by the registry, one per minted id.
// Price is the mint-time reference price in indivisible units and bounds
// all future resale prices.
type Ticket struct {
	ID             uint64
	Owner          Account
	EventID        string
	Price          uint64
	EventDate      time.Time
	MetadataRef    string
	ForSale        bool
	Used           bool
	LastResaleTime time.Time
}

// Listing is an open offer to sell a ticket. At most one exists per ticket,
// and its existence is equivalent to Ticket.ForSale being set.
type Listing struct {
	TicketID uint64  `json:"ticket_id"`
	Seller   Account `json:"seller"`
	Price    uint64  `json:"price"`
}

// Royalty is the global resale fee configuration. Bps of each sale price is
// diverted to Recipient before the seller payout.
type Royalty struct {
	Recipient Account
	Bps       uint64
}

// MaxRoyaltyBps caps SetRoyalty; 10000 bps would be the whole price.
const MaxRoyaltyBps = 2000

// Params are the protocol constants of a registry deployment.
type Params struct {
	MinResalePrice     uint64
	MaxResaleMultiple  uint64
	ResaleCooldown     time.Duration
	MaxMintsPerAccount uint64
	MaxBuysPerWindow   uint64
	BuyWindow          time.Duration
}

// DefaultParams mirror the deployed contract configuration.
func DefaultParams() Params {
	return Params{
		MinResalePrice:     1,
		MaxResaleMultiple:  5,
		ResaleCooldown:     time.Hour,
		MaxMintsPerAccount: 100,
		MaxBuysPerWindow:   10,
		BuyWindow:          time.Hour,
	}
}

// TicketInfo is the read-model view of a ticket returned by queries,
// including the active listing when one exists.
type TicketInfo struct {
	ID        uint64    `json:"ticket_id"`
	Owner     Account   `json:"owner"`
	EventID   string    `json:"event_id"`
	Price     uint64    `json:"price"`
	EventDate time.Time `json:"event_date"`
	ForSale   bool      `json:"for_sale"`
	Used      bool      `json:"used"`
	Listing   *Listing  `json:"listing,omitempty"`
}
