package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings returns the effective settings with secrets masked, for logs and
// the inspect command.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"app_version":               c.App.Version,
		"app_port":                  c.App.Port,
		"app_debug":                 c.App.Debug,
		"app_env":                   c.App.Environment,
		"server_id":                 c.App.ServerID,
		"valkey_enabled":            c.Valkey.Enabled,
		"valkey_address":            c.Valkey.Address,
		"valkey_key_prefix":         c.Valkey.KeyPrefix,
		"webhook_secret":            mask(c.Webhook.Secret),
		"webhook_process_timeout":   c.Webhook.ProcessTimeout.String(),
		"transport_base_url":        c.Transport.BaseURL,
		"transport_token":           mask(c.Transport.Token),
		"claim_ttl":                 c.Reliability.ClaimTTL.String(),
		"done_ttl":                  c.Reliability.DoneTTL.String(),
		"lock_ttl":                  c.Reliability.LockTTL.String(),
		"waitlist_ttl":              c.Reliability.WaitlistTTL.String(),
		"burst_window":              c.Reliability.BurstWindow.String(),
		"max_messages":              c.Reliability.MaxMessages,
		"max_events":                c.Reliability.MaxEvents,
		"max_suffix_scan":           c.Reliability.MaxSuffixScan,
		"message_worker_pool_size":  c.WorkerPool.Size,
		"message_worker_queue_size": c.WorkerPool.QueueSize,
		"auto_reply_enabled":        c.AutoReply.Message != "",
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// Helpers
func getString(v *viper.Viper, key, fallback string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	return fallback
}

func getInt(v *viper.Viper, key string, fallback int) int {
	if !v.IsSet(key) || strings.TrimSpace(v.GetString(key)) == "" {
		return fallback
	}
	return v.GetInt(key)
}

func getBool(v *viper.Viper, key string, fallback bool) bool {
	if !v.IsSet(key) {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v.GetString(key))) {
	case "1", "true", "yes", "on":
		return true
	case "":
		return fallback
	default:
		return false
	}
}

// getDuration accepts Go durations ("30s") and bare integers as milliseconds.
func getDuration(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if n := v.GetInt64(key); n > 0 {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}

func getList(v *viper.Viper, key string) []string {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
