package cmd

import (
	"context"

	"github.com/sirupsen/logrus"

	coreconfig "github.com/AzielCF/az-recruit/core/config"
	"github.com/AzielCF/az-recruit/crm/application"
	"github.com/AzielCF/az-recruit/crm/domain"
	"github.com/AzielCF/az-recruit/crm/repository"
	"github.com/AzielCF/az-recruit/infrastructure/transport"
	"github.com/AzielCF/az-recruit/infrastructure/valkey"
)

// backend is the store handle created once per process.
type backend struct {
	name   string
	stores domain.Stores
	ping   func(ctx context.Context) error
	close  func()
}

// openBackend connects to Valkey when enabled. Without Valkey every store
// lives in this process, which only coordinates a single instance.
func openBackend(cfg *coreconfig.Config) (*backend, error) {
	opts := cfg.Reliability.StoreOptions()

	if !cfg.Valkey.Enabled {
		logrus.Warn("[APP] VALKEY_ENABLED is false; using the in-process store, deduplication is not shared across instances")
		return &backend{
			name:   "memory",
			stores: repository.NewMemoryStores(opts),
			ping:   func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}

	client, err := valkey.NewClient(valkey.Config{
		Address:   cfg.Valkey.Address,
		Password:  cfg.Valkey.Password,
		DB:        cfg.Valkey.DB,
		KeyPrefix: cfg.Valkey.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	logrus.Infof("[APP] Connected to Valkey at %s (db %d, prefix %q)", cfg.Valkey.Address, cfg.Valkey.DB, cfg.Valkey.KeyPrefix)

	return &backend{
		name:   "valkey",
		stores: repository.NewValkeyStores(client, opts),
		ping:   client.Ping,
		close:  client.Close,
	}, nil
}

func newSender(cfg *coreconfig.Config) transport.Sender {
	if cfg.Transport.BaseURL == "" {
		logrus.Warn("[APP] TRANSPORT_BASE_URL is empty; replies are only logged")
		return transport.LogSender{}
	}
	return transport.NewHTTPSender(transport.HTTPConfig{
		BaseURL: cfg.Transport.BaseURL,
		Token:   cfg.Transport.Token,
		Timeout: cfg.Transport.Timeout,
	})
}

func newProcessor(cfg *coreconfig.Config) application.Processor {
	return application.AutoReplyProcessor{Message: cfg.AutoReply.Message}
}
