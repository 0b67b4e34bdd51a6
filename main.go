package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexlim7/madate-vault-sub000/api"
	"github.com/alexlim7/madate-vault-sub000/cache"
	"github.com/alexlim7/madate-vault-sub000/config"
	"github.com/alexlim7/madate-vault-sub000/db"
	"github.com/alexlim7/madate-vault-sub000/monitoring"
	"github.com/alexlim7/madate-vault-sub000/resilience"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/services"
	"github.com/alexlim7/madate-vault-sub000/stores"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"github.com/alexlim7/madate-vault-sub000/webhooks"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"
)

const version = "1.0.0"

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func printInfo(message string) {
	fmt.Printf("%sℹ%s %s\n", colorCyan, colorReset, message)
}

func fatal(message string, err error) {
	printError(fmt.Sprintf("%s: %v", message, err))
	os.Exit(1)
}

func main() {
	fmt.Printf("%s%sMandate Vault %s%s\n\n", colorCyan, colorBold, version, colorReset)

	printStep("1/7", "Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("Configuration validation failed", err)
	}
	utils.ConfigureLogging(cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat)
	log := utils.NewLogger("main")
	defer log.Sync()
	printSuccess(fmt.Sprintf("Configuration loaded (%s)", cfg.Environment))
	if cfg.Security.InboundWebhookSecret == "" {
		printWarning("INBOUND_WEBHOOK_SECRET is empty; inbound signatures are not checked")
	}

	printStep("2/7", "Connecting to database...")
	gormLevel := logger.Warn
	if cfg.IsDevelopment() {
		gormLevel = logger.Info
	}
	database, err := db.Open(db.Options{
		PrimaryDSN:   cfg.GetDatabaseURL(),
		ReplicaDSNs:  cfg.Database.ReplicaDSNs,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxLifetime:  cfg.Database.MaxLifetime,
		MaxIdleTime:  cfg.Database.MaxIdleTime,
		LogLevel:     gormLevel,
	})
	if err != nil {
		fatal("Failed to connect to database", err)
	}
	defer database.Close()
	printSuccess(fmt.Sprintf("Connected to PostgreSQL at %s:%d (%d replicas)", cfg.Database.Host, cfg.Database.Port, database.Replicas()))

	if cfg.Database.AutoMigrate {
		if err := db.CreateSchemaMigrator(database.DB).Up(context.Background()); err != nil {
			fatal("Migration failed", err)
		}
		printSuccess("Schema migrations applied")
	}

	printStep("3/7", "Connecting to Redis...")
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.CreateRedisCache(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			printWarning(fmt.Sprintf("Failed to connect to Redis: %v (continuing without verdict cache)", err))
			redisCache = nil
		} else {
			defer redisCache.Close()
			printSuccess(fmt.Sprintf("Connected to Redis at %s", cfg.GetRedisAddr()))
		}
	} else {
		printInfo("Redis disabled")
	}

	printStep("4/7", "Initializing security components...")
	var secrets security.SecretCipher = security.PlaintextCipher{}
	if cfg.Security.SecretEncryptionKey != "" {
		secrets, err = security.CreateSecretCipher(cfg.Security.SecretEncryptionKey)
		if err != nil {
			fatal("Failed to initialize secret encryption", err)
		}
	} else {
		printWarning("SECRET_ENCRYPTION_KEY is empty; subscription secrets are stored unencrypted")
	}
	printSuccess("Security components initialized")

	printStep("5/7", "Initializing services...")
	base := stores.CreateBaseStore(database.DB)
	authorizationStore := stores.CreateAuthorizationStore(database.DB)
	ledger := stores.CreateInboundEventStore(database.DB)
	subscriptionStore := stores.CreateSubscriptionStore(database.DB)
	deliveryStore := stores.CreateDeliveryStore(database.DB)
	auditStore := stores.CreateAuditStore(database.DB)
	tenantStore := stores.CreateTenantStore(database.DB)

	auditService := services.CreateAuditService(auditStore)
	tenantService := services.CreateTenantService(tenantStore)
	sender := webhooks.CreateSender(nil)
	breakers := resilience.CreateCircuitBreakers(resilience.CircuitBreakerConfig{
		MaxFailures: cfg.Delivery.CircuitFailures,
		Cooldown:    cfg.Delivery.CircuitCooldown,
		OnStateChange: func(subscriptionID string, from, to resilience.CircuitState) {
			monitoring.DeliveryCircuitTransitionsTotal.WithLabelValues(to.String()).Inc()
			log.Warn(context.Background(), "Subscription circuit changed state", map[string]interface{}{
				"subscription_id": subscriptionID,
				"from":            from.String(),
				"to":              to.String(),
			})
		},
	})
	engine := services.CreateDeliveryEngine(base, subscriptionStore, deliveryStore, sender, secrets).
		WithCircuitBreakers(breakers)
	authorizationService := services.CreateAuthorizationService(base, authorizationStore, auditService, engine, cfg.Security.AllowedIssuers)
	subscriptionService := services.CreateSubscriptionService(subscriptionStore, auditService, secrets, services.SubscriptionDefaults{
		MaxRetries:        cfg.Delivery.DefaultMaxRetries,
		RetryDelaySeconds: cfg.Delivery.DefaultRetryDelaySeconds,
		TimeoutSeconds:    cfg.Delivery.DefaultTimeoutSeconds,
	})

	processor := services.CreateInboundProcessor(
		base,
		authorizationStore,
		ledger,
		tenantService,
		auditService,
		engine,
		services.DefaultHandlers(),
		services.InboundConfig{
			Secret:         cfg.Security.InboundWebhookSecret,
			AllowedIssuers: cfg.Security.AllowedIssuers,
		},
	)
	if redisCache != nil {
		processor.WithCache(cache.CreateEventCache(redisCache))
	}

	worker := services.CreateDeliveryWorker(deliveryStore, engine, services.WorkerConfig{
		PollInterval:  cfg.Delivery.PollInterval,
		BatchSize:     cfg.Delivery.BatchSize,
		Concurrency:   cfg.Delivery.Concurrency,
		RatePerSecond: cfg.Delivery.RatePerSecond,
		Burst:         cfg.Delivery.Burst,
		StuckAfter:    cfg.Delivery.StuckAfter,
	})
	printSuccess("Services initialized")

	printStep("6/7", "Registering health checks...")
	health := monitoring.CreateHealthService(version)
	health.AddCheck("database", database.Ping)
	health.AddCheck("delivery_worker", func(context.Context) error {
		if !worker.Running() {
			return services.ErrWorkerNotRunning
		}
		return nil
	})
	if redisCache != nil {
		health.AddOptionalCheck("redis", redisCache.Ping)
	}
	printSuccess("Health checks registered")

	printStep("7/7", "Setting up HTTP server...")
	router := api.NewRouter(api.RouterDeps{
		Inbound:        processor,
		Authorizations: authorizationService,
		Audit:          auditService,
		Subscriptions:  subscriptionService,
		Deliveries:     engine,
		Tenants:        tenantService,
		Health:         health,
		Webhook: api.WebhookConfig{
			SignatureHeader: cfg.Security.SignatureHeader,
			TenantHeader:    cfg.Security.TenantHeader,
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		},
		AdminAPIKey:    cfg.Security.AdminAPIKey,
		MetricsEnabled: cfg.Monitoring.MetricsEnabled,
	})
	if cfg.Security.AdminAPIKey == "" {
		printWarning("ADMIN_API_KEY is empty; /admin routes are closed")
	}

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	printSuccess("HTTP server configured")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(); err != nil {
		fatal("Failed to start delivery worker", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		printInfo(fmt.Sprintf("Listening on :%s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		printWarning("Shutting down...")

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		serverErr := server.Shutdown(shutdownCtx)
		workerErr := worker.Stop(cfg.Delivery.DrainTimeout)
		return errors.Join(serverErr, workerErr)
	})

	if err := g.Wait(); err != nil {
		log.Error(context.Background(), "Shutdown with error", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	printSuccess("Mandate Vault stopped gracefully")
}
