package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ticketforge/ticket-registry/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// SetTicketInfo caches a ticket read-model view for ttl.
func (c *Cache) SetTicketInfo(ctx context.Context, info domain.TicketInfo, ttl time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, ticketKey(info.ID), data, ttl).Err()
}

// GetTicketInfo returns the cached view, or nil on a miss.
func (c *Cache) GetTicketInfo(ctx context.Context, id uint64) (*domain.TicketInfo, error) {
	val, err := c.client.Get(ctx, ticketKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info domain.TicketInfo
	if err := json.Unmarshal(val, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// InvalidateTicket drops the cached view after a mutating event.
func (c *Cache) InvalidateTicket(ctx context.Context, id uint64) error {
	return c.client.Del(ctx, ticketKey(id)).Err()
}

func ticketKey(id uint64) string {
	return "ticket:" + strconv.FormatUint(id, 10)
}
