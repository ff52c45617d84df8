// Package mongo holds the collaborator-side stores: the external event
// catalog the gateway validates mint requests against, and the operation
// audit log. Neither participates in the registry's invariants.
package mongo

import (
	"context"
	"time"

	"github.com/ticketforge/ticket-registry/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

// EventDoc is an external event record. The registry core never reads these;
// the gateway uses Date to fill the mint eventDate and to refuse minting for
// events already in the past.
type EventDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Venue     string    `bson:"venue"`
	Date      time.Time `bson:"date"`
	BasePrice uint64    `bson:"base_price"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id string) (*EventDoc, error) {
	var event EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if err != nil {
		c.logger.WithField("event_id", id).Error("failed to get event", err)
		return nil, err
	}
	return &event, nil
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, event EventDoc) error {
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, event)
	if err != nil {
		c.logger.Error("failed to create event", err)
		return err
	}
	return nil
}
