package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongoadapter "github.com/ticketforge/ticket-registry/internal/adapters/mongo"
	"github.com/ticketforge/ticket-registry/internal/adapters/rabbit"
	redisadapter "github.com/ticketforge/ticket-registry/internal/adapters/redis"
	"github.com/ticketforge/ticket-registry/internal/config"
	"github.com/ticketforge/ticket-registry/internal/domain"
	"github.com/ticketforge/ticket-registry/internal/events"
	httphandler "github.com/ticketforge/ticket-registry/internal/http"
	"github.com/ticketforge/ticket-registry/internal/idempotency"
	"github.com/ticketforge/ticket-registry/internal/observability"
	"github.com/ticketforge/ticket-registry/internal/registry"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestIntegration_MintListBuyValidate(t *testing.T) {
	ctx := context.Background()

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongo", "--eval", "db.runCommand('ping').ok"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	rabbitHost, err := rabbitContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rabbitPort, err := rabbitContainer.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		MongoURI:     "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:    redisHost + ":" + redisPort.Port(),
		RabbitURL:    "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		AdminAccount: "admin",
		Params:       domain.DefaultParams(),
	}

	logger := observability.NewLogger()
	emitter := events.NewEmitter(logger)
	reg := registry.New(domain.Account(cfg.AdminAccount), cfg.Params, nil, emitter)
	if err := reg.GrantRole("admin", "minter", domain.RoleMinter); err != nil {
		t.Fatal(err)
	}
	if err := reg.GrantRole("admin", "gate", domain.RoleValidator); err != nil {
		t.Fatal(err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database("registry")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)
	emitter.SubscribeAll(audit.Handler())

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisClient, time.Hour)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	pub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}
	emitter.SubscribeAll(pub.Handler(logger))

	consumer, err := rabbit.NewConsumer(rabbitConn, "it-registry-q")
	if err != nil {
		t.Fatal(err)
	}
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}

	handlers := httphandler.NewHandlers(cfg, reg, cache, idemp, catalog)
	router := httphandler.SetupRouter(handlers, logger, nil)

	srv := &http.Server{Addr: ":8089", Handler: router}
	go srv.ListenAndServe()
	defer srv.Shutdown(ctx)
	time.Sleep(200 * time.Millisecond)

	base := "http://localhost:8089"
	eventDate := time.Now().Add(30 * 24 * time.Hour)

	if err := catalog.CreateEvent(ctx, mongoadapter.EventDoc{
		ID:        "concert-42",
		Name:      "Test Concert",
		Venue:     "Arena",
		Date:      eventDate,
		BasePrice: 100,
	}); err != nil {
		t.Fatal(err)
	}

	post := func(path, account, key string, payload map[string]any) (*http.Response, map[string]any) {
		t.Helper()
		body, _ := json.Marshal(payload)
		req, _ := http.NewRequest("POST", base+path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Account", account)
		req.Header.Set("Idempotency-Key", key)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var decoded map[string]any
		json.NewDecoder(resp.Body).Decode(&decoded)
		return resp, decoded
	}

	// mint with the event date taken from the mongo catalog
	mintKey := "mint-key-0123456789abcdef"
	resp, body := post("/v1/tickets", "minter", mintKey, map[string]any{
		"to":       "alice",
		"event_id": "concert-42",
		"price":    100,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("mint failed: status %d", resp.StatusCode)
	}
	ticketID := body["ticket_id"].(float64)

	// same idempotency key replays the stored response, no second mint
	resp, body = post("/v1/tickets", "minter", mintKey, map[string]any{
		"to":       "alice",
		"event_id": "concert-42",
		"price":    100,
	})
	if resp.StatusCode != http.StatusCreated || body["ticket_id"].(float64) != ticketID {
		t.Fatalf("expected replayed mint, got status %d body %v", resp.StatusCode, body)
	}

	idPath := "/v1/tickets/1"

	resp, _ = post(idPath+"/list", "alice", "list-key-0123456789abcdef", map[string]any{"price": 150})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list failed: status %d", resp.StatusCode)
	}

	resp, _ = post("/v1/accounts/bob/deposit", "bob", "depo-key-0123456789abcdef", map[string]any{"amount": 200})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit failed: status %d", resp.StatusCode)
	}

	resp, body = post(idPath+"/buy", "bob", "buy-key-00123456789abcdef", map[string]any{"paid": 150})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy failed: status %d", resp.StatusCode)
	}
	if body["owner"] != "bob" {
		t.Errorf("expected owner bob, got %v", body["owner"])
	}

	resp, _ = post(idPath+"/validate", "gate", "gate-key-0123456789abcdef", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate failed: status %d", resp.StatusCode)
	}

	// query path, served via the redis cache on repeat
	for i := 0; i < 2; i++ {
		getResp, err := http.Get(base + idPath)
		if err != nil {
			t.Fatal(err)
		}
		var info struct {
			Owner string `json:"owner"`
			Used  bool   `json:"used"`
		}
		json.NewDecoder(getResp.Body).Decode(&info)
		getResp.Body.Close()
		if getResp.StatusCode != http.StatusOK || info.Owner != "bob" || !info.Used {
			t.Fatalf("get ticket: status %d info %+v", getResp.StatusCode, info)
		}
	}

	// every operation reached the message bus
	want := map[string]bool{
		"ticket.minted":    false,
		"ticket.listed":    false,
		"ticket.sold":      false,
		"ticket.validated": false,
	}
	timeout := time.After(10 * time.Second)
	for remaining := len(want); remaining > 0; {
		select {
		case d := <-deliveries:
			if seen, ok := want[d.RoutingKey]; ok && !seen {
				want[d.RoutingKey] = true
				remaining--
			}
			d.Ack(false)
		case <-timeout:
			t.Fatalf("missing events on the bus: %v", want)
		}
	}

	// the audit log captured the flow
	n, err := mongoDB.Collection("audit_logs").CountDocuments(ctx, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if n < 4 {
		t.Errorf("expected at least 4 audit entries, got %d", n)
	}
}
