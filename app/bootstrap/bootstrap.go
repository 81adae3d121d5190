package bootstrap

import (
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/expertclone/backend-go/app/controllers"
	"github.com/expertclone/backend-go/internal/config"
	"github.com/expertclone/backend-go/internal/consul"
	"github.com/expertclone/backend-go/internal/database"
	"github.com/expertclone/backend-go/internal/di"
	"github.com/expertclone/backend-go/internal/kafka"
	"github.com/expertclone/backend-go/internal/logger"
	"github.com/expertclone/backend-go/internal/services"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cleanupTasks    []func() error
	consulClient    *consul.Client
	serviceRegistry *consul.ServiceRegistry
}

// Init bootstraps configuration, logger, database connections and the
// service graph required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load dynamic configuration.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}

	app := &App{}

	// Initialize database.
	if _, err := database.InitDB(); err != nil {
		return nil, err
	}
	app.cleanupTasks = append(app.cleanupTasks, func() error {
		return database.CloseDB()
	})

	// Initialize Redis (optional). Failure shouldn't block the app.
	if _, err := database.InitRedis(); err != nil {
		logger.Warn("Failed to initialize Redis, job snapshots stay in memory and database", zap.Error(err))
	} else {
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			return database.CloseRedis()
		})
	}

	// Build the service graph. Real/simulated provider selection happens
	// once inside the providers, not per request.
	container := di.InitContainer()
	if err := di.RegisterProviders(container); err != nil {
		return nil, err
	}

	err := container.Invoke(func(
		processing *services.RAGProcessingService,
		query *services.RAGQueryService,
		tracker *services.InitializationTracker,
		producer *kafka.Producer,
	) {
		controllers.Setup(processing, query, tracker)
		if producer != nil {
			app.cleanupTasks = append(app.cleanupTasks, producer.Close)
		}
	})
	if err != nil {
		return nil, err
	}

	// Register service with Consul (optional).
	if config.AppConfig.Consul.Enabled {
		consulClient, err := consul.NewClient(
			config.AppConfig.Consul.Address,
			config.AppConfig.Consul.Enabled,
			logger.GetLogger(),
		)
		if err != nil {
			logger.Warn("Failed to initialize Consul client", zap.Error(err))
		} else if consulClient.IsEnabled() {
			app.consulClient = consulClient
			registry := consul.NewServiceRegistry(
				consulClient,
				config.AppConfig.Consul.ServiceID,
				config.AppConfig.Consul.ServiceName,
				logger.GetLogger(),
			)
			if err := registry.Register(config.AppConfig); err != nil {
				logger.Warn("Failed to register service with Consul", zap.Error(err))
			} else {
				app.serviceRegistry = registry
				app.cleanupTasks = append(app.cleanupTasks, registry.Deregister)
			}
		}
	}

	return app, nil
}

// Shutdown flushes logs and closes resources gracefully.
func (a *App) Shutdown() {
	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}

	logger.Sync()
}
