package cmd

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	coreconfig "github.com/AzielCF/az-recruit/core/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "az-recruit",
	Short: "WhatsApp recruiting CRM ingestion service",
	Long: `az-recruit receives WhatsApp webhook deliveries and applies them to candidate
conversations exactly once, coordinating through a shared Valkey store.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initApp(cmd)
	},
	SilenceUsage: true,
}

func init() {
	time.Local = time.UTC
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	initFlags()
}

func initFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("port", "p", "", "change port number with --port <number> | example: --port=8080")
	flags.BoolP("debug", "d", false, "enable debug logging --debug <true/false> | example: --debug=true")
	flags.String("env-file", ".env", `dotenv file loaded before reading the environment --env-file <path> | example: --env-file=".env.prod"`)
	flags.Bool("valkey", false, "use Valkey instead of the in-process store --valkey <true/false> | example: --valkey=true")
	flags.String("valkey-address", "", `valkey address --valkey-address <host:port> | example: --valkey-address="localhost:6379"`)
	flags.String("webhook-secret", "", `verify X-Hub-Signature-256 with this secret --webhook-secret <string> | example: --webhook-secret="app-secret"`)
	flags.String("autoreply", "", `auto reply when a candidate writes --autoreply <string> | example: --autoreply="Hola {name}, gracias por escribir"`)
	flags.Int("message-workers", 0, "number of concurrent message workers --message-workers <number> | example: --message-workers=12")
	flags.Int("message-queue-size", 0, "queue size per message worker --message-queue-size <number> | example: --message-queue-size=500")

	bind := map[string]string{
		"app_port":                  "port",
		"app_debug":                 "debug",
		"valkey_enabled":            "valkey",
		"valkey_address":            "valkey-address",
		"webhook_secret":            "webhook-secret",
		"auto_reply_message":        "autoreply",
		"message_worker_pool_size":  "message-workers",
		"message_worker_queue_size": "message-queue-size",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// initApp loads the dotenv file, the configuration and the log level. Flags
// left at their zero value fall through to the environment.
func initApp(cmd *cobra.Command) error {
	envFile, _ := cmd.Root().PersistentFlags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).Warnf("[APP] Failed to load %s", envFile)
		}
	}

	cfg, err := coreconfig.LoadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.WithFields(logrus.Fields(cfg.Settings())).Debug("[APP] Effective configuration")
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
