package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	coreconfig "github.com/AzielCF/az-recruit/core/config"
	"github.com/AzielCF/az-recruit/crm/application"
	"github.com/AzielCF/az-recruit/pkg/msgworker"
	"github.com/AzielCF/az-recruit/pkg/utils"
	"github.com/AzielCF/az-recruit/ui/rest"
	"github.com/AzielCF/az-recruit/ui/rest/middleware"
)

const shutdownTimeout = 30 * time.Second

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the webhook and the operational API over http",
	RunE:  restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(cmd *cobra.Command, _ []string) error {
	cfg := coreconfig.Global
	serverID := utils.InstanceID(cfg.App.ServerID, cfg.App.DataDir)
	log := logrus.WithField("server_id", serverID)

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer be.close()

	ingestor := application.NewIngestor(be.stores, newProcessor(cfg), newSender(cfg), cfg.Reliability.Ingest())

	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	pool := msgworker.NewPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)
	pool.OnJobEnd = func(workerID int, key string, err error) {
		if err != nil {
			log.WithError(err).Warnf("[REST] Delivery for %s failed on worker %d", key, workerID)
		}
	}
	pool.Start(poolCtx)

	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: len(cfg.App.TrustedProxies) > 0,
		TrustedProxies:          cfg.App.TrustedProxies,
		BodyLimit:               cfg.Webhook.BodyLimit,
		Network:                 "tcp",
		AppName:                 "az-recruit " + cfg.App.Version,
		ServerHeader:            "Hidden",
		ErrorHandler:            middleware.ErrorHandler,
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedFor
	}
	app := fiber.New(fiberConfig)

	app.Use(requestid.New())
	app.Use(middleware.Recovery())
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if cfg.App.Debug {
		app.Use(logger.New())
	}

	base := app.Group(cfg.App.BasePath)
	rest.InitRestWebhook(base, ingestor, pool, rest.WebhookConfig{
		Secret:         cfg.Webhook.Secret,
		VerifyToken:    cfg.Webhook.VerifyToken,
		ProcessTimeout: cfg.Webhook.ProcessTimeout,
	})

	apiGroup := base.Group("/api")
	if users := basicAuthUsers(cfg.App.BasicAuth); len(users) > 0 {
		apiGroup.Use(basicauth.New(basicauth.Config{Users: users}))
	} else {
		log.Warn("[REST] APP_BASIC_AUTH is empty; the operational API is public")
	}
	rest.InitRestHealth(apiGroup, rest.Health{
		Ping:     be.ping,
		ServerID: serverID,
		Version:  cfg.App.Version,
		Backend:  be.name,
	})
	rest.InitRestMonitoring(apiGroup, be.stores, pool)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
	}()

	log.Infof("[REST] Listening on :%s (store: %s)", cfg.App.Port, be.name)
	if err := app.Listen(":" + cfg.App.Port); err != nil {
		log.Errorf("[REST] Failed to start: %v", err)
		return err
	}

	// Accepted deliveries still queued are processed before the store closes.
	pool.Stop()
	log.Info("[APP] Application stopped cleanly.")
	return nil
}

func basicAuthUsers(credentials []string) map[string]string {
	users := make(map[string]string, len(credentials))
	for _, credential := range credentials {
		user, pass, ok := strings.Cut(credential, ":")
		if !ok || user == "" {
			logrus.Warnf("[REST] Ignoring malformed basic auth credential for %q", user)
			continue
		}
		users[user] = pass
	}
	return users
}
