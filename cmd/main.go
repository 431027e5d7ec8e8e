/**
 * @description
 * This is the main entry point for the transfer-service. It loads configuration,
 * connects the ledger, cache, event broker and upstream clients, wires the
 * transfer orchestrator and query service, and serves the HTTP API until a
 * shutdown signal arrives.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Transaction cache and rate limiting.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/accountclient, pkg/customerclient: Clients for the upstream services.
 * - pkg/rabbitmq, pkg/kafka: Event notifiers.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/transfer-service/internal/api"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/config"
	"github.com/transfa/transfer-service/internal/store"
	"github.com/transfa/transfer-service/pkg/accountclient"
	"github.com/transfa/transfer-service/pkg/customerclient"
	"github.com/transfa/transfer-service/pkg/kafka"
	rmrabbit "github.com/transfa/transfer-service/pkg/rabbitmq"
	"go.opentelemetry.io/otel"
)

type eventNotifier interface {
	app.EventNotifier
	Close()
}

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWKSURL) == "" && cfg.JWTHMACSecret == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"token verification must be configured\" env=JWKS_URL,JWT_HMAC_SECRET")
	}
	if cfg.AccountServiceURL == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"account-service url must be configured\" env=ACCOUNT_SERVICE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting transfer-service\" port=%s broker=%s", cfg.ServerPort, cfg.EventBroker)

	ctx := context.Background()

	if cfg.OTLPEndpoint != "" {
		tp, tracerErr := initTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
		if tracerErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"tracer init failed; tracing disabled\" err=%v", tracerErr)
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
		mp, metricsErr := initMetrics(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
		if metricsErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"metrics init failed; metrics disabled\" err=%v", metricsErr)
		} else {
			defer func() { _ = mp.Shutdown(context.Background()) }()
		}
	}

	// Ledger: PostgreSQL, or in-memory only on explicit opt-in.
	useMemoryLedger, err := cfg.UseMemoryLedger()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"ledger not configured\" err=%v", err)
	}
	var ledger store.Ledger
	if useMemoryLedger {
		log.Println("level=warn component=bootstrap msg=\"using in-memory ledger; records are lost on restart\" env=ALLOW_MEMORY_LEDGER")
		ledger = store.NewMemoryLedger()
	} else {
		poolConfig, parseErr := pgxpool.ParseConfig(cfg.DatabaseURL)
		if parseErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", parseErr)
		}
		poolConfig.MaxConns = 50
		poolConfig.MinConns = 5
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, poolErr := pgxpool.NewWithConfig(ctx, poolConfig)
		if poolErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", poolErr)
		}
		defer dbpool.Close()

		schemaCtx, cancelSchema := context.WithTimeout(ctx, 30*time.Second)
		if schemaErr := store.EnsureSchema(schemaCtx, dbpool); schemaErr != nil {
			cancelSchema()
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", schemaErr)
		}
		cancelSchema()
		log.Println("level=info component=bootstrap msg=\"database connected\"")
		ledger = store.NewPostgresLedger(dbpool)
	}

	// Redis backs the transaction cache and the transfer rate limiter. Both degrade when absent.
	var cache app.TransactionCache
	var limiter api.RateLimiter
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; cache and rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; cache and rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; cache and rate limiting disabled\" err=%v", pingErr)
				_ = redisClient.Close()
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
				if ttl := cfg.TransactionCacheTTL(); ttl > 0 {
					cache = store.NewRedisTransactionCache(redisClient, cfg.RedisKeyPrefix, ttl)
				}
				limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix)
			}
		}
	}

	notifier := newNotifier(cfg)
	defer notifier.Close()

	accountClient := accountclient.NewClient(cfg.AccountServiceURL, cfg.GatewayTimeout(), cfg.GatewayRetryCount)

	var customers app.CustomerGateway
	if cfg.CustomerServiceURL != "" {
		customers = customerclient.NewClient(cfg.CustomerServiceURL, cfg.GatewayTimeout(), cfg.GatewayRetryCount)
	} else if cfg.ValidateCustomerOwnership {
		log.Println("level=warn component=bootstrap msg=\"customer-service url missing; ownership validation disabled\" env=CUSTOMER_SERVICE_URL")
	}

	var observer app.TransferObserver = app.NoopTransferObserver{}
	metricsObserver, err := app.NewMetricsObserver(otel.Meter("transfer-service"))
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"transfer metrics unavailable\" err=%v", err)
	} else {
		observer = metricsObserver
	}

	transferService := app.NewTransferService(ledger, accountClient, customers, notifier, app.TransferOptions{
		ParallelAccountValidation: cfg.ParallelAccountValidation,
		ValidateCustomerOwnership: cfg.ValidateCustomerOwnership,
		CompensationTimeout:       cfg.CompensationTimeout(),
	})
	transferService.SetObserver(observer)
	queryService := app.NewQueryService(ledger, cache)

	if cfg.PendingAuditSchedule != "" {
		scheduler := app.NewScheduler(app.NewPendingAudit(ledger, observer, cfg.PendingAuditStaleAfter()), cfg.PendingAuditSchedule)
		if schedErr := scheduler.Start(); schedErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"pending audit disabled\" err=%v", schedErr)
		} else {
			defer func() { <-scheduler.Stop().Done() }()
		}
	}

	transactionHandlers := api.NewTransactionHandlers(transferService, queryService, cfg.DependencyFailureStatus)

	router := chi.NewRouter()
	router.Mount("/api/transactions", api.TransactionRoutes(transactionHandlers, api.RouterConfig{
		Auth: api.AuthConfig{
			JWKSURL:      cfg.JWKSURL,
			HMACSecret:   cfg.JWTHMACSecret,
			Audience:     cfg.JWTAudience,
			Issuer:       cfg.JWTIssuer,
			AllowedRoles: cfg.AllowedRoles(),
		},
		RateLimiter:                limiter,
		TransferRateLimitPerMinute: cfg.TransferRateLimitPerMinute,
		AllowedOrigins:             cfg.AllowedOrigins(),
	}))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// newNotifier picks the event broker. RabbitMQ falls back to a logging no-op
// when the broker cannot be reached at startup.
func newNotifier(cfg config.Config) eventNotifier {
	if cfg.EventBroker == config.EventBrokerKafka {
		if cfg.KafkaBrokers == "" {
			log.Println("level=warn component=bootstrap msg=\"kafka brokers missing; events will not be published\" env=KAFKA_BROKERS")
			return &rmrabbit.EventProducerFallback{}
		}
		log.Printf("level=info component=bootstrap msg=\"kafka publisher configured\" brokers=%s", cfg.KafkaBrokers)
		return kafka.NewPublisher(cfg.KafkaBrokers)
	}

	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		return &rmrabbit.EventProducerFallback{}
	}
	log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	return producer
}
