package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shipping-rates-service/internal/booking"
	"shipping-rates-service/internal/config"
	"shipping-rates-service/internal/events"
	"shipping-rates-service/internal/handlers"
	"shipping-rates-service/internal/middleware"
	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/providers"
	"shipping-rates-service/internal/quotes"
	"shipping-rates-service/internal/recon"
	"shipping-rates-service/internal/repository"
)

func main() {
	log.Println("Starting Shipping Rates Service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded successfully")

	appLogger := logrus.New()
	appLogger.SetFormatter(&logrus.JSONFormatter{})
	appLogger.SetLevel(logrus.InfoLevel)

	// Connect to database
	db, err := connectDatabase(cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Database connected successfully")

	// Run migrations
	if err := runMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Initialize Redis client (optional - sessions fall back to memory)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Failed to parse Redis URL: %v", err)
		} else {
			redisClient = redis.NewClient(opt)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Printf("Warning: Failed to connect to Redis: %v", err)
				log.Println("Continuing with in-memory quote sessions...")
				redisClient = nil
			} else {
				log.Println("✓ Connected to Redis for quote sessions")
			}
		}
	} else {
		log.Println("REDIS_URL not configured, using in-memory quote sessions")
	}

	// Initialize NATS events publisher (optional)
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Printf("WARNING: Failed to connect to NATS: %v (events won't be published)", err)
		} else {
			defer conn.Close()
			natsPublisher, err := events.NewNATSPublisher(conn, appLogger)
			if err != nil {
				log.Printf("WARNING: Failed to initialize events publisher: %v", err)
			} else {
				publisher = natsPublisher
				log.Println("✓ NATS events publisher initialized")
			}
		}
	}

	// Initialize provider registry from env config
	registry := providers.NewRegistry(map[models.ProviderType]providers.Config{
		models.ProviderDelhivery:  cfg.Providers.Delhivery,
		models.ProviderShiprocket: cfg.Providers.Shiprocket,
	}, appLogger)
	for _, providerType := range registry.Types() {
		log.Printf("Initialized provider %s", providerType)
	}

	// Initialize repositories
	rateCardRepo := repository.NewRateCardRepository(db)
	shipmentRepo := repository.NewShipmentRepository(db)
	reconRepo := repository.NewReconRepository(db)
	log.Println("Repositories initialized")

	// Session store: Redis when available, in-memory otherwise
	var sessionStore quotes.SessionStore
	if redisClient != nil {
		sessionStore = quotes.NewRedisSessionStore(redisClient)
	} else {
		sessionStore = quotes.NewMemorySessionStore()
	}

	catalogCache := quotes.NewCatalogCache(rateCardRepo)

	orchestrator := quotes.NewOrchestrator(
		catalogCache,
		rateCardRepo,
		registry,
		sessionStore,
		publisher,
		cfg.Providers.Timeouts,
		cfg.Quotes.SessionTTL,
		appLogger,
	)

	wallet := booking.NewMemoryWallet()
	saga := booking.NewSaga(sessionStore, shipmentRepo, registry, wallet, publisher, appLogger)
	tracker := booking.NewTracker(shipmentRepo, registry, appLogger)

	reconEngine := recon.NewEngine(reconRepo, shipmentRepo, publisher, cfg.Reconciliation.ThresholdPct, appLogger)
	log.Println("Services initialized")

	// Initialize handlers
	quoteHandler := handlers.NewQuoteHandler(orchestrator)
	bookingHandler := handlers.NewBookingHandler(saga, tracker, shipmentRepo)
	reconHandler := handlers.NewReconHandler(reconEngine)
	log.Println("Handlers initialized")

	// Setup router
	router := setupRouter(quoteHandler, bookingHandler, reconHandler, cfg, appLogger)
	log.Println("Router configured")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	log.Printf("Starting server on %s (environment: %s)", addr, cfg.Server.Env)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// connectDatabase establishes a connection to the PostgreSQL database
func connectDatabase(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// runMigrations runs database migrations
func runMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ServiceCatalogEntry{},
		&models.RateCard{},
		&models.SellerPolicy{},
		&models.Shipment{},
		&models.ShipmentStatusEvent{},
		&models.BillingRecord{},
		&models.VarianceCase{},
	)
}

// setupRouter configures the Gin router with routes and middleware
func setupRouter(
	quoteHandler *handlers.QuoteHandler,
	bookingHandler *handlers.BookingHandler,
	reconHandler *handlers.ReconHandler,
	cfg *config.Config,
	appLogger *logrus.Logger,
) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware(appLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.TenantMiddleware())
	router.Use(middleware.ErrorHandler(appLogger))

	// Health check
	router.GET("/health", handlers.HealthCheck)

	// API routes
	api := router.Group("/api")
	{
		// Quotes
		api.POST("/quotes", quoteHandler.GenerateQuote)
		api.GET("/quotes/:sessionId", quoteHandler.GetQuote)
		api.POST("/quotes/:sessionId/select", quoteHandler.SelectOption)

		// Shipments
		api.POST("/shipments", bookingHandler.BookShipment)
		api.GET("/shipments", bookingHandler.ListShipments)
		api.GET("/shipments/:id", bookingHandler.GetShipment)
		api.GET("/shipments/:id/history", bookingHandler.GetShipmentHistory)
		api.GET("/shipments/track/:awb", bookingHandler.TrackShipment)

		// Reconciliation
		api.POST("/reconciliation/import", reconHandler.ImportBilling)
		api.GET("/reconciliation/cases", reconHandler.ListCases)
		api.POST("/reconciliation/cases/:id/resolve", reconHandler.ResolveCase)
	}

	// Webhook routes (no tenant middleware for external carrier callbacks)
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/status", bookingHandler.UpdateStatus)
	}

	return router
}
