package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ticketforge/ticket-registry/internal/adapters/crdb"
	"github.com/ticketforge/ticket-registry/internal/adapters/rabbit"
	"github.com/ticketforge/ticket-registry/internal/config"
	"github.com/ticketforge/ticket-registry/internal/domain"
	"github.com/ticketforge/ticket-registry/internal/observability"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	mirror := crdb.NewMirror(pool)
	if err := mirror.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, "registry.mirror.q")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	worker := NewMirrorWorker(mirror, consumer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return worker.TrackLag(gctx, 15*time.Second) })

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-gctx.Done():
	}
	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("indexer stopped", err)
	}
	logger.Info("Shutdown indexer")
}

// MirrorWorker applies the registry event stream to the Postgres mirror.
// Events are deduplicated by id, so redelivered messages are harmless.
type MirrorWorker struct {
	mirror   *crdb.Mirror
	consumer *rabbit.Consumer
	logger   observability.Logger
}

func NewMirrorWorker(mirror *crdb.Mirror, consumer *rabbit.Consumer, logger observability.Logger) *MirrorWorker {
	return &MirrorWorker{mirror: mirror, consumer: consumer, logger: logger}
}

func (w *MirrorWorker) Run(ctx context.Context) error {
	deliveries, err := w.consumer.Consume(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				w.logger.Error("malformed event, dropping", err)
				d.Ack(false)
				continue
			}
			if err := w.applyWithRetry(ctx, ev, d.Body); err != nil {
				w.logger.WithField("event_id", ev.ID.String()).Error("failed to apply event", err)
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}

func (w *MirrorWorker) applyWithRetry(ctx context.Context, ev domain.Event, raw []byte) error {
	var err error
	for i := 0; i < 3; i++ {
		err = w.apply(ctx, ev, raw)
		if err == nil || err != crdb.ErrSerializationFailure {
			return err
		}
		backoff := time.Duration(1<<i) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func (w *MirrorWorker) apply(ctx context.Context, ev domain.Event, raw []byte) error {
	return w.mirror.WithTx(ctx, func(tx pgx.Tx) error {
		applied, err := w.mirror.InsertEvent(ctx, tx, ev, raw)
		if err != nil {
			return err
		}
		if !applied {
			return nil // duplicate delivery
		}

		switch ev.Type {
		case domain.EventMinted:
			eventDate, err := time.Parse(time.RFC3339, dataString(ev, "event_date"))
			if err != nil {
				return err
			}
			return w.mirror.UpsertTicket(ctx, tx, ev.TicketID,
				domain.Account(dataString(ev, "to")), dataString(ev, "event_id"), dataUint(ev, "price"), eventDate)
		case domain.EventListed:
			return w.mirror.SetListing(ctx, tx, ev.TicketID,
				domain.Account(dataString(ev, "seller")), dataUint(ev, "price"))
		case domain.EventListingCancelled:
			return w.mirror.ClearListing(ctx, tx, ev.TicketID)
		case domain.EventSold:
			return w.mirror.SetOwner(ctx, tx, ev.TicketID, domain.Account(dataString(ev, "buyer")))
		case domain.EventValidated:
			return w.mirror.MarkUsed(ctx, tx, ev.TicketID)
		case domain.EventBurned:
			return w.mirror.DeleteTicket(ctx, tx, ev.TicketID)
		default:
			return nil // administrative events are journaled only
		}
	})
}

// TrackLag exports the age of the newest mirrored event.
func (w *MirrorWorker) TrackLag(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			at, err := w.mirror.LatestEventAt(ctx)
			if err != nil {
				w.logger.Error("failed to read mirror lag", err)
				continue
			}
			if !at.IsZero() {
				observability.MirrorLag.Set(time.Since(at).Seconds())
			}
		}
	}
}

func dataString(ev domain.Event, key string) string {
	s, _ := ev.Data[key].(string)
	return s
}

func dataUint(ev domain.Event, key string) uint64 {
	switch v := ev.Data[key].(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	case int64:
		return uint64(v)
	default:
		return 0
	}
}
