package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/ticketforge/ticket-registry/internal/adapters/mongo"
	"github.com/ticketforge/ticket-registry/internal/adapters/rabbit"
	redisadapter "github.com/ticketforge/ticket-registry/internal/adapters/redis"
	"github.com/ticketforge/ticket-registry/internal/config"
	"github.com/ticketforge/ticket-registry/internal/domain"
	"github.com/ticketforge/ticket-registry/internal/events"
	httphandler "github.com/ticketforge/ticket-registry/internal/http"
	"github.com/ticketforge/ticket-registry/internal/idempotency"
	"github.com/ticketforge/ticket-registry/internal/observability"
	"github.com/ticketforge/ticket-registry/internal/rateLimit"
	"github.com/ticketforge/ticket-registry/internal/registry"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	emitter := events.NewEmitter(logger)
	reg := registry.New(domain.Account(cfg.AdminAccount), cfg.Params, nil, emitter)

	var (
		cache   *redisadapter.Cache
		idemp   *idempotency.Idempotency
		rl      *rateLimit.RateLimiter
		catalog *mongoadapter.CatalogRepository
	)

	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		cache = redisadapter.NewCache(redisClient)
		idemp = idempotency.NewIdempotency(redisClient, time.Hour)
		rl = rateLimit.NewRateLimiter(cache)

		c := cache
		emitter.SubscribeAll(func(ev domain.Event) {
			if ev.TicketID != 0 {
				c.InvalidateTicket(context.Background(), ev.TicketID)
			}
		})
	} else {
		logger.Warn("REDIS_ADDR not set, idempotency and HTTP rate limiting disabled")
	}

	if cfg.RabbitURL != "" {
		rabbitConn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer rabbitConn.Close()
		rabbitPub, err := rabbit.NewPublisher(rabbitConn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		emitter.SubscribeAll(rabbitPub.Handler(logger))
	} else {
		logger.Warn("RABBIT_URL not set, events stay in-process")
	}

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		mongoDB := mongoClient.Database("registry")
		catalog = mongoadapter.NewCatalogRepository(mongoDB, logger)
		audit := mongoadapter.NewAuditLogger(mongoDB, logger)
		emitter.SubscribeAll(audit.Handler())
	}

	handlers := httphandler.NewHandlers(cfg, reg, cache, idemp, catalog)
	router := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.WithField("addr", cfg.HTTPAddr).Info("registry API started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
