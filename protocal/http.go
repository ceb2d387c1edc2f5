package protocal

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"agent-bridge/configs"
	httpAdapter "agent-bridge/internal/adapters/input/http"
	agentAdapter "agent-bridge/internal/adapters/output/agent"
	lineAdapter "agent-bridge/internal/adapters/output/line"
	"agent-bridge/internal/adapters/output/memory"
	"agent-bridge/internal/adapters/output/office"
	"agent-bridge/internal/adapters/output/postgres"
	redisAdapter "agent-bridge/internal/adapters/output/redis"
	"agent-bridge/internal/application"
	"agent-bridge/internal/ports/output"
	"agent-bridge/pkg/database_driver/gorm"

	swagger "github.com/arsmn/fiber-swagger/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type config struct {
	ENV string `mapstructure:"env"`
}

// Defaults applied when the session section is left at zero values
const (
	defaultCacheMaxAge   = 60 * time.Minute
	defaultSweepInterval = 10 * time.Minute
)

// ServeHTTP func
func ServeHTTP() error {
	var cfg config
	flag.StringVar(&cfg.ENV, "env", "", "the environment to use")
	flag.Parse()
	configs.InitViper("./configs", cfg.ENV)
	conf := configs.GetViper()
	logrus.Info(conf.Env)
	if conf.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	maxBytes := conf.Media.MaxBytes
	if maxBytes <= 0 {
		maxBytes = application.DefaultMaxAttachmentBytes
	}

	app := fiber.New(fiber.Config{
		// Attachments arrive base64 encoded on the turn API
		BodyLimit:    int(maxBytes*2) + fiber.DefaultBodyLimit,
		UnescapePath: true,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept,Authorization",
	}))

	// Output adapter (durable store)
	store, closeStore, err := newDurableStore(conf)
	if err != nil {
		return err
	}

	// Output adapters (agent backend, LINE, office documents, session cache)
	backendClient, err := agentAdapter.NewBackendClientAdapter(conf.Backend)
	if err != nil {
		return err
	}
	lineClient, err := lineAdapter.NewLineClientAdapter(conf.Line.ChannelToken, maxBytes)
	if err != nil {
		logrus.Fatalf("Failed to create LINE client: %v", err)
	}
	converter := office.NewConverter()
	sessionCache := memory.NewSessionCache()

	// Application services (use cases)
	appName := conf.Backend.AppName
	if appName == "" {
		appName = "app"
	}
	artifactStore := application.NewArtifactStore(store)
	directory := application.NewSessionDirectory(store, backendClient)
	normalizer := application.NewMediaNormalizer(converter, maxBytes)
	aggregator := application.NewStreamAggregator(artifactStore, backendClient.RequestTimeout(), conf.Backend.StreamTimeoutMultiplier)
	dispatcher := application.NewTurnDispatcher(directory, sessionCache, normalizer, artifactStore, aggregator, backendClient, appName)
	lineWebhookSrv := application.NewLineWebhookService(lineClient, dispatcher, artifactStore, appName, conf.Media.PublicBaseURL, maxBytes)

	// Background session cache sweep
	scheduler, err := startSessionSweep(sessionCache, conf.Session)
	if err != nil {
		return err
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		for range c {
			log.Println("Gracefull shut down ...")
			<-scheduler.Stop().Done()
			closeStore()
			err := app.Shutdown()
			if err != nil {
				log.Println("Error when shutdown server: ", err)
			}
		}
	}()

	// Input adapters (HTTP handlers)
	hdl := httpAdapter.New(dispatcher, artifactStore, store, appName)
	lineWebhookHdl := httpAdapter.NewLineWebhookHandler(lineWebhookSrv, conf.Line.ChannelSecret)

	app.Get("/swagger/*", swagger.HandlerDefault) // default
	app.Get("/health", hdl.HealthCheck)

	magnolia := app.Group("/v1/api")
	{
		magnolia.Post("/turns", hdl.HandleTurn)
		magnolia.Delete("/sessions/:user", hdl.ResetSession)
		magnolia.Get("/artifacts/:user", hdl.ListArtifacts)
		magnolia.Get("/artifacts/:user/files/:filename", hdl.GetArtifactByFilename)
		magnolia.Get("/artifacts/:user/:session/:filename", hdl.GetArtifact)
	}

	// LINE webhook endpoint
	webhook := app.Group("/webhook")
	{
		webhook.Post("/line", lineWebhookHdl.HandleWebhook)
	}

	logrus.Println("Listerning on port: ", conf.App.Port)
	return app.Listen(":" + conf.App.Port)
}

// newDurableStore picks the object store named by store.driver
func newDurableStore(conf *configs.Config) (output.DurableStore, func(), error) {
	switch conf.Store.Driver {
	case "", "postgres":
		dbConGorm, err := gorm.ConnectToPostgreSQL(
			conf.Postgres.Host,
			conf.Postgres.Port,
			conf.Postgres.Username,
			conf.Postgres.Password,
			conf.Postgres.DbName,
			conf.Postgres.SSLMode,
			conf.App.Debug,
		)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.NewBlobStore(dbConGorm.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { gorm.DisconnectPostgres(dbConGorm.Postgres) }, nil

	case "redis":
		client := redisAdapter.NewClient(conf.Redis)
		return redisAdapter.NewBlobStore(client, conf.Redis.Prefix), func() {
			if err := client.Close(); err != nil {
				logrus.Error(err)
			}
		}, nil

	case "memory":
		logrus.Warn("Using in-memory durable store, sessions and artifacts are lost on restart")
		return memory.NewBlobStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", conf.Store.Driver)
	}
}

// startSessionSweep evicts idle in-memory session cache entries on a schedule.
// The durable mapping is never touched.
func startSessionSweep(cache output.SessionCache, conf configs.Session) (*cron.Cron, error) {
	maxAge := time.Duration(conf.CacheMaxAge) * time.Minute
	if maxAge <= 0 {
		maxAge = defaultCacheMaxAge
	}
	interval := time.Duration(conf.SweepInterval) * time.Minute
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if removed := cache.Sweep(maxAge); removed > 0 {
			logrus.Infof("Session cache sweep evicted %d entries", removed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule session sweep: %w", err)
	}
	scheduler.Start()

	logrus.Infof("Session cache sweep every %s, max age %s", interval, maxAge)
	return scheduler, nil
}
