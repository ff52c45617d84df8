// Package crdb mirrors registry state into Postgres/CockroachDB for
// off-chain consumers. The event stream is authoritative; these tables are a
// queryable projection plus an append-only journal of every event applied.
package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketforge/ticket-registry/internal/domain"
)

const (
	SerializationFailureCode = "40001"
)

// ErrSerializationFailure is returned when a transaction loses under
// SERIALIZABLE isolation and should be retried by the caller.
var ErrSerializationFailure = errors.New("serialization failure")

type Mirror struct {
	pool *pgxpool.Pool
}

func NewMirror(pool *pgxpool.Pool) *Mirror {
	return &Mirror{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	id BIGINT PRIMARY KEY,
	owner TEXT NOT NULL,
	event_id TEXT NOT NULL,
	price BIGINT NOT NULL,
	event_date TIMESTAMPTZ NOT NULL,
	for_sale BOOL NOT NULL DEFAULT false,
	used BOOL NOT NULL DEFAULT false,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS listings (
	ticket_id BIGINT PRIMARY KEY,
	seller TEXT NOT NULL,
	price BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS registry_events (
	id UUID PRIMARY KEY,
	seq BIGINT NOT NULL DEFAULT 0,
	event_type TEXT NOT NULL,
	ticket_id BIGINT,
	actor TEXT NOT NULL,
	at TIMESTAMPTZ NOT NULL,
	payload_json JSONB,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (m *Mirror) EnsureSchema(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, schema)
	return errors.Wrap(err, "ensure mirror schema")
}

func (m *Mirror) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

// InsertEvent journals an event. Returns false when the event id was already
// applied, which lets the indexer deduplicate redelivered messages.
func (m *Mirror) InsertEvent(ctx context.Context, tx pgx.Tx, ev domain.Event, payload []byte) (bool, error) {
	result, err := tx.Exec(ctx, `
		INSERT INTO registry_events (id, seq, event_type, ticket_id, actor, at, payload_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.Seq, string(ev.Type), ev.TicketID, string(ev.Actor), ev.At, payload)
	if err != nil {
		return false, errors.Wrap(err, "insert event")
	}
	return result.RowsAffected() > 0, nil
}

func (m *Mirror) UpsertTicket(ctx context.Context, tx pgx.Tx, id uint64, owner domain.Account, eventID string, price uint64, eventDate time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO tickets (id, owner, event_id, price, event_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET owner = $2, event_id = $3, price = $4, event_date = $5, updated_at = now()
	`, id, string(owner), eventID, price, eventDate)
	return errors.Wrap(err, "upsert ticket")
}

func (m *Mirror) SetOwner(ctx context.Context, tx pgx.Tx, id uint64, owner domain.Account) error {
	_, err := tx.Exec(ctx, `
		UPDATE tickets SET owner = $2, for_sale = false, updated_at = now() WHERE id = $1
	`, id, string(owner))
	return errors.Wrap(err, "set owner")
}

func (m *Mirror) SetListing(ctx context.Context, tx pgx.Tx, id uint64, seller domain.Account, price uint64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO listings (ticket_id, seller, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (ticket_id) DO UPDATE SET seller = $2, price = $3, created_at = now()
	`, id, string(seller), price)
	if err != nil {
		return errors.Wrap(err, "set listing")
	}
	_, err = tx.Exec(ctx, `UPDATE tickets SET for_sale = true, updated_at = now() WHERE id = $1`, id)
	return errors.Wrap(err, "flag for sale")
}

func (m *Mirror) ClearListing(ctx context.Context, tx pgx.Tx, id uint64) error {
	_, err := tx.Exec(ctx, `DELETE FROM listings WHERE ticket_id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "clear listing")
	}
	_, err = tx.Exec(ctx, `UPDATE tickets SET for_sale = false, updated_at = now() WHERE id = $1`, id)
	return errors.Wrap(err, "unflag for sale")
}

func (m *Mirror) MarkUsed(ctx context.Context, tx pgx.Tx, id uint64) error {
	if err := m.ClearListing(ctx, tx, id); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `UPDATE tickets SET used = true, updated_at = now() WHERE id = $1`, id)
	return errors.Wrap(err, "mark used")
}

func (m *Mirror) DeleteTicket(ctx context.Context, tx pgx.Tx, id uint64) error {
	if err := m.ClearListing(ctx, tx, id); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	return errors.Wrap(err, "delete ticket")
}

// TicketRow is the mirrored view of a ticket.
type TicketRow struct {
	ID        uint64
	Owner     string
	EventID   string
	Price     uint64
	EventDate time.Time
	ForSale   bool
	Used      bool
}

func (m *Mirror) GetTicket(ctx context.Context, id uint64) (*TicketRow, error) {
	var row TicketRow
	err := m.pool.QueryRow(ctx, `
		SELECT id, owner, event_id, price, event_date, for_sale, used
		FROM tickets WHERE id = $1
	`, id).Scan(&row.ID, &row.Owner, &row.EventID, &row.Price, &row.EventDate, &row.ForSale, &row.Used)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrTicketNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get ticket")
	}
	return &row, nil
}

// LatestEventAt reports the timestamp of the newest applied event, for the
// mirror lag gauge.
func (m *Mirror) LatestEventAt(ctx context.Context) (time.Time, error) {
	var at time.Time
	err := m.pool.QueryRow(ctx, `SELECT COALESCE(MAX(at), 'epoch'::timestamptz) FROM registry_events`).Scan(&at)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "latest event")
	}
	return at, nil
}

// EventCount reports how many events have been journaled, by type when typ
// is non-empty.
func (m *Mirror) EventCount(ctx context.Context, typ domain.EventType) (int64, error) {
	var n int64
	var err error
	if typ == "" {
		err = m.pool.QueryRow(ctx, `SELECT count(*) FROM registry_events`).Scan(&n)
	} else {
		err = m.pool.QueryRow(ctx, `SELECT count(*) FROM registry_events WHERE event_type = $1`, string(typ)).Scan(&n)
	}
	if err != nil {
		return 0, errors.Wrap(err, "event count")
	}
	return n, nil
}
