package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/ticketforge/ticket-registry/internal/domain"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	AdminAccount string
	Params       domain.Params
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	admin := os.Getenv("ADMIN_ACCOUNT")
	if admin == "" {
		admin = "admin"
	}

	params := domain.DefaultParams()
	if v := envUint("MIN_RESALE_PRICE"); v > 0 {
		params.MinResalePrice = v
	}
	if v := envUint("MAX_RESALE_MULTIPLE"); v > 0 {
		params.MaxResaleMultiple = v
	}
	if v := envDuration("RESALE_COOLDOWN"); v > 0 {
		params.ResaleCooldown = v
	}
	if v := envUint("MAX_MINTS_PER_ACCOUNT"); v > 0 {
		params.MaxMintsPerAccount = v
	}
	if v := envUint("MAX_BUYS_PER_WINDOW"); v > 0 {
		params.MaxBuysPerWindow = v
	}
	if v := envDuration("BUY_WINDOW"); v > 0 {
		params.BuyWindow = v
	}

	return &Config{
		HTTPAddr:     addr,
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminAccount: admin,
		Params:       params,
	}, nil
}

func envUint(key string) uint64 {
	v, _ := strconv.ParseUint(os.Getenv(key), 10, 64)
	return v
}

func envDuration(key string) time.Duration {
	v, _ := time.ParseDuration(os.Getenv(key))
	return v
}
