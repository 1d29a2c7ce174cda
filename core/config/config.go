package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/AzielCF/az-recruit/crm/application"
	"github.com/AzielCF/az-recruit/crm/domain/guard"
	"github.com/AzielCF/az-recruit/crm/repository"
	"github.com/AzielCF/az-recruit/infrastructure/transport"
	"github.com/AzielCF/az-recruit/pkg/msgworker"
)

const Version = "v0.4.0"

// Config holds all application configuration in a structured way.
type Config struct {
	App         AppConfig
	Valkey      ValkeyConfig
	Webhook     WebhookConfig
	Transport   TransportConfig
	Reliability ReliabilityConfig
	WorkerPool  WorkerPoolConfig
	AutoReply   AutoReplyConfig
}

type AppConfig struct {
	Version        string
	Port           string
	Debug          bool
	Environment    string
	BasicAuth      []string
	BasePath       string
	TrustedProxies []string
	ServerID       string
	DataDir        string
}

type ValkeyConfig struct {
	Enabled   bool
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

type WebhookConfig struct {
	Secret         string
	VerifyToken    string
	ProcessTimeout time.Duration
	BodyLimit      int
}

type TransportConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// ReliabilityConfig tunes the dedup, lock and retention behaviour of the
// ingestion core.
type ReliabilityConfig struct {
	ClaimTTL      time.Duration
	DoneTTL       time.Duration
	LockTTL       time.Duration
	WaitlistTTL   time.Duration
	BurstWindow   time.Duration
	MaxMessages   int
	MaxEvents     int
	MaxSuffixScan int
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

type AutoReplyConfig struct {
	Message string
}

// Global provides access to the loaded configuration.
var Global *Config

// LoadConfig reads every setting through v, which resolves flags, then
// environment variables (APP_PORT for app_port), then the .env file already
// loaded into the environment.
func LoadConfig(v *viper.Viper) (*Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Version:        Version,
			Port:           getString(v, "app_port", "3000"),
			Debug:          getBool(v, "app_debug", false),
			Environment:    getString(v, "app_env", "development"),
			BasicAuth:      getList(v, "app_basic_auth"),
			BasePath:       getString(v, "app_base_path", ""),
			TrustedProxies: getList(v, "app_trusted_proxies"),
			ServerID:       getString(v, "server_id", ""),
			DataDir:        getString(v, "app_data_dir", "storages"),
		},
		Valkey: ValkeyConfig{
			Enabled:   getBool(v, "valkey_enabled", false),
			Address:   getString(v, "valkey_address", "localhost:6379"),
			Password:  getString(v, "valkey_password", ""),
			DB:        getInt(v, "valkey_db", 0),
			KeyPrefix: getString(v, "valkey_key_prefix", "azrecruit:"),
		},
		Webhook: WebhookConfig{
			Secret:         getString(v, "webhook_secret", ""),
			VerifyToken:    getString(v, "webhook_verify_token", ""),
			ProcessTimeout: getDuration(v, "webhook_process_timeout", 2*time.Minute),
			BodyLimit:      getInt(v, "webhook_body_limit", 1<<20),
		},
		Transport: TransportConfig{
			BaseURL: getString(v, "transport_base_url", ""),
			Token:   getString(v, "transport_token", ""),
			Timeout: getDuration(v, "transport_timeout", transport.DefaultTimeout),
		},
		Reliability: ReliabilityConfig{
			ClaimTTL:      getDuration(v, "claim_ttl", guard.DefaultClaimTTL),
			DoneTTL:       getDuration(v, "done_ttl", guard.DefaultDoneTTL),
			LockTTL:       getDuration(v, "lock_ttl", guard.DefaultLockTTL),
			WaitlistTTL:   getDuration(v, "waitlist_ttl", guard.DefaultWaitlistTTL),
			BurstWindow:   getDuration(v, "burst_window", application.DefaultBurstWindow),
			MaxMessages:   getInt(v, "max_messages", repository.DefaultMaxMessages),
			MaxEvents:     getInt(v, "max_events", repository.DefaultMaxEvents),
			MaxSuffixScan: getInt(v, "max_suffix_scan", application.DefaultMaxSuffixScan),
		},
		WorkerPool: WorkerPoolConfig{
			Size:      getInt(v, "message_worker_pool_size", msgworker.DefaultWorkers),
			QueueSize: getInt(v, "message_worker_queue_size", msgworker.DefaultQueueSize),
		},
		AutoReply: AutoReplyConfig{
			Message: getString(v, "auto_reply_message", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	Global = cfg
	return cfg, nil
}

// Validate checks ranges and the TTL ordering the dedup guard relies on.
func (c *Config) Validate() error {
	r := &c.Reliability
	err := validation.ValidateStruct(r,
		validation.Field(&r.ClaimTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&r.DoneTTL, validation.Required, validation.Min(r.ClaimTTL+time.Second)),
		validation.Field(&r.LockTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&r.WaitlistTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&r.BurstWindow, validation.Min(time.Duration(0)), validation.Max(r.LockTTL/2)),
		validation.Field(&r.MaxMessages, validation.Min(1)),
		validation.Field(&r.MaxEvents, validation.Min(1)),
		validation.Field(&r.MaxSuffixScan, validation.Min(1)),
	)
	if err != nil {
		return err
	}

	w := &c.WorkerPool
	if err := validation.ValidateStruct(w,
		validation.Field(&w.Size, validation.Min(1)),
		validation.Field(&w.QueueSize, validation.Min(1)),
	); err != nil {
		return err
	}

	if c.Valkey.Enabled {
		vk := &c.Valkey
		if err := validation.ValidateStruct(vk,
			validation.Field(&vk.Address, validation.Required),
			validation.Field(&vk.DB, validation.Min(0)),
		); err != nil {
			return err
		}
	}
	return nil
}

// TTLs returns the guard expiry settings.
func (r ReliabilityConfig) TTLs() guard.TTLs {
	return guard.TTLs{
		Claim:    r.ClaimTTL,
		Done:     r.DoneTTL,
		Lock:     r.LockTTL,
		Waitlist: r.WaitlistTTL,
	}
}

// StoreOptions returns the repository settings for either backend.
func (r ReliabilityConfig) StoreOptions() repository.Options {
	return repository.Options{
		TTLs:        r.TTLs(),
		MaxMessages: r.MaxMessages,
		MaxEvents:   r.MaxEvents,
	}
}

func (r ReliabilityConfig) Ingest() application.Config {
	return application.Config{
		BurstWindow:   r.BurstWindow,
		MaxSuffixScan: r.MaxSuffixScan,
	}
}
