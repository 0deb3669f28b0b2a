package di

import (
	"context"
	"fmt"
	"time"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/console"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dashboard"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/functions"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/handler"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/presence"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/querycache"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/realtime"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/role"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/service"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/session"
	"github.com/Ebrudra/desk-access-hub/pkg/config"
	"github.com/Ebrudra/desk-access-hub/pkg/database"
	"github.com/Ebrudra/desk-access-hub/pkg/kafka"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/redis"
	"github.com/Ebrudra/desk-access-hub/pkg/retry"
)

// Container holds all dependencies for the console service
type Container struct {
	// Infrastructure
	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer
	Consumer *kafka.Consumer

	// Repositories
	RoleRepo     repository.RoleRepository
	BookingRepo  repository.BookingRepository
	MemberRepo   repository.MemberRepository
	ResourceRepo repository.ResourceRepository
	PaymentRepo  repository.PaymentRepository

	// Realtime
	Hub       *realtime.Hub
	Publisher realtime.ChangePublisher
	Feed      *realtime.KafkaFeed

	// Services
	Roles          *role.Resolver
	Sessions       *session.Gateway
	Consoles       *console.Registry
	BookingService service.BookingService
	Functions      *functions.Registry
	Scheduler      *functions.Scheduler

	// Handlers
	HealthHandler    *handler.HealthHandler
	AuthHandler      *handler.AuthHandler
	DashboardHandler *handler.DashboardHandler
	BookingHandler   *handler.BookingHandler
	FunctionHandler  *handler.FunctionHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config *config.Config
	DB     *database.PostgresDB
	Redis  *redis.Client
	// Producer and Consumer are optional; without them change events stay
	// in process and notifications are not offered
	Producer *kafka.Producer
	Consumer *kafka.Consumer
	Logger   *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	appCfg := cfg.Config
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
		Consumer: cfg.Consumer,
	}

	// Initialize repositories
	pool := c.DB.Pool()
	c.RoleRepo = repository.NewPostgresRoleRepository(pool)
	c.BookingRepo = repository.NewPostgresBookingRepository(pool)
	c.MemberRepo = repository.NewPostgresMemberRepository(pool)
	c.ResourceRepo = repository.NewPostgresResourceRepository(pool)
	c.PaymentRepo = repository.NewPostgresPaymentRepository(pool)

	// Kafka-backed pieces are optional. Interface fields stay nil rather
	// than holding a typed nil pointer.
	var producer retry.JSONProducer
	var dlq retry.DLQPublisher
	var notifier *functions.KafkaNotifier
	if c.Producer != nil {
		producer = c.Producer
		dlq = retry.NewKafkaDLQPublisher(c.Producer, appCfg.Kafka.DLQSuffix, "backend-console")
		notifier = functions.NewKafkaNotifier(c.Producer, appCfg.Kafka.NotificationTopic)
	}

	// Realtime
	c.Hub = realtime.NewHub(log)
	c.Publisher = realtime.NewPublisher(producer, appCfg.Kafka.ChangeTopic, c.Hub)
	if c.Consumer != nil {
		c.Feed = realtime.NewKafkaFeed(&realtime.KafkaFeedConfig{
			Consumer: c.Consumer,
			Hub:      c.Hub,
			DLQ:      dlq,
			Logger:   log,
		})
	}

	// Initialize services
	c.Roles = role.NewResolver(c.RoleRepo, log)

	var sessionNotifier session.Notifier
	if notifier != nil {
		sessionNotifier = notifier
	}
	c.Sessions = session.NewGateway(
		repository.NewPostgresUserRepository(pool),
		repository.NewPostgresSessionRepository(pool),
		repository.NewPostgresPasswordResetRepository(pool),
		sessionNotifier,
		session.Config{
			JWTSecret:                appCfg.JWT.Secret,
			Issuer:                   appCfg.JWT.Issuer,
			AccessTokenTTL:           appCfg.JWT.AccessTokenTTL,
			RefreshTokenTTL:          appCfg.JWT.RefreshTokenTTL,
			ResetTokenTTL:            appCfg.JWT.ResetTokenTTL,
			RequireEmailConfirmation: appCfg.IsProduction(),
		},
		log,
	)

	queryRetry := retry.DefaultConfig()
	queryRetry.MaxRetries = appCfg.Query.MaxRetries
	queryRetry.InitialInterval = appCfg.Query.RetryDelay

	c.Consoles = console.NewRegistry(console.Deps{
		Hub:       c.Hub,
		Roles:     c.Roles,
		Presence:  presence.NewRedisStore(c.Redis, 2*appCfg.Presence.HeartbeatInterval+time.Minute),
		Refresher: c.Sessions,
		Repos: dashboard.Repositories{
			Bookings:  c.BookingRepo,
			Members:   c.MemberRepo,
			Resources: c.ResourceRepo,
			Payments:  c.PaymentRepo,
		},
		Query: querycache.Config{
			StaleTime: appCfg.Query.StaleTime,
			GCTime:    appCfg.Query.GCTime,
			Retry:     queryRetry,
			Logger:    log,
		},
		PresenceConfig: presence.Config{
			Channel:   appCfg.Presence.Channel,
			Heartbeat: appCfg.Presence.HeartbeatInterval,
		},
		Watcher: session.WatcherConfig{
			CheckInterval: appCfg.Console.SessionCheckPeriod,
			RefreshAhead:  appCfg.Console.SessionRefreshAhead,
			Logger:        log,
		},
		Logger: log,
	}, console.RegistryConfig{
		IdleTTL:       appCfg.Console.IdleTTL,
		SweepInterval: appCfg.Console.SweepInterval,
	})

	c.BookingService = service.NewBookingService(
		c.BookingRepo,
		c.ResourceRepo,
		c.Roles,
		c.Publisher,
		&service.BookingServiceConfig{Logger: log},
	)

	// Backend functions
	var taskNotifier functions.Notifier
	if notifier != nil {
		taskNotifier = notifier
	}
	taskCfg := functions.DefaultTaskConfig()
	taskCfg.Logger = log
	runner := functions.NewTaskRunner(c.BookingRepo, c.Publisher, taskNotifier, taskCfg)
	c.Scheduler = functions.NewScheduler(runner, functions.DefaultSchedulerConfig())

	c.Functions = functions.NewRegistry(c.Roles, log)
	c.Functions.Register(functions.RunAutomatedTask, functions.NewRunAutomatedTask(runner), role.IsAdmin)
	if taskNotifier != nil {
		c.Functions.Register(functions.SendNotification, functions.NewSendNotification(taskNotifier, c.Roles), nil)
	} else {
		log.Warn("kafka unavailable, send-notification is not registered")
	}
	if appCfg.StripeEnabled() {
		gw, err := functions.NewStripeCheckout(&functions.StripeCheckoutConfig{SecretKey: appCfg.Stripe.SecretKey})
		if err != nil {
			return nil, fmt.Errorf("failed to create checkout gateway: %w", err)
		}
		c.Functions.Register(functions.CreateCheckoutSession, functions.NewCreateCheckoutSession(gw, c.BookingRepo, functions.CheckoutConfig{
			Currency:   appCfg.Stripe.Currency,
			SuccessURL: appCfg.Stripe.SuccessURL,
			CancelURL:  appCfg.Stripe.CancelURL,
		}), nil)
	} else {
		c.Functions.Register(functions.CreateCheckoutSession, func(context.Context, *functions.Call) (any, error) {
			return nil, domain.ErrCheckoutDisabled
		}, nil)
	}

	// Initialize handlers
	checks := map[string]handler.HealthChecker{"postgres": c.DB, "redis": c.Redis}
	c.HealthHandler = handler.NewHealthHandler("backend-console", checks)
	c.AuthHandler = handler.NewAuthHandler(c.Sessions, c.Consoles, appCfg.IsProduction())
	c.DashboardHandler = handler.NewDashboardHandler(c.Consoles, c.Sessions, nil)
	c.BookingHandler = handler.NewBookingHandler(c.BookingService, c.Consoles)
	c.FunctionHandler = handler.NewFunctionHandler(c.Functions)

	return c, nil
}

// Start launches the background loops: console sweeping, the task
// scheduler and the change feed
func (c *Container) Start(ctx context.Context) error {
	if err := c.Consoles.Start(ctx); err != nil {
		return err
	}
	if err := c.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if c.Feed != nil {
		c.Feed.Start(ctx)
	}
	return nil
}

// Stop ends the background loops and closes every open console
func (c *Container) Stop() {
	if c.Feed != nil {
		c.Feed.Stop()
	}
	c.Scheduler.Stop()
	c.Consoles.Stop()
}
