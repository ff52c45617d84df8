package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ticketforge/ticket-registry/internal/domain"
	"github.com/ticketforge/ticket-registry/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	EventType string    `bson:"event_type"`
	TicketID  uint64    `bson:"ticket_id"`
	Actor     string    `bson:"actor"`
	At        time.Time `bson:"at"`
	Data      bson.M    `bson:"data"`
}

// LogEvent records a registry event in the audit collection. It implements
// the emitter Handler shape via Handler below.
func (a *AuditLogger) LogEvent(ctx context.Context, ev domain.Event) error {
	log := AuditLog{
		ID:        ev.ID,
		EventType: string(ev.Type),
		TicketID:  ev.TicketID,
		Actor:     string(ev.Actor),
		At:        ev.At,
		Data:      bson.M(ev.Data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

// Handler adapts the audit logger into an emitter subscriber.
func (a *AuditLogger) Handler() func(domain.Event) {
	return func(ev domain.Event) {
		_ = a.LogEvent(context.Background(), ev)
	}
}
