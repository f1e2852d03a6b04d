// internal/config/historian.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// HistorianConfig holds the settings of the action log consumer.
type HistorianConfig struct {
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	RedisQueue  string
	BatchSize   int
	FlushEvery  time.Duration
	PopTimeout  time.Duration
	Inactivity  time.Duration
	LogLevel    string
	Verbose     bool
}

func (c *HistorianConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("--database-url is required")
	}
	if c.RedisAddr == "" || c.RedisQueue == "" {
		return errors.New("--redis-addr and --redis-queue are required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("--batch-size must be at least 1, got %d", c.BatchSize)
	}
	if c.FlushEvery <= 0 || c.PopTimeout <= 0 {
		return errors.New("--flush-every and --pop-timeout must be positive")
	}
	return nil
}

// NewHistorianCommand builds the historian root command.
func NewHistorianCommand(cfg *HistorianConfig, version string, run func(cmd *cobra.Command, cfg *HistorianConfig) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "simon-historian",
		Short:         "Persists room actions from redis into postgres.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres connection string (env: SIMON_DATABASE_URL)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "redis address (env: SIMON_REDIS_ADDR)")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database index (env: SIMON_REDIS_DB)")
	fs.StringVar(&cfg.RedisQueue, "redis-queue", "simon_actions", "redis list to drain (env: SIMON_REDIS_QUEUE)")
	fs.IntVar(&cfg.BatchSize, "batch-size", 20, "actions written per transaction (env: SIMON_BATCH_SIZE)")
	fs.DurationVar(&cfg.FlushEvery, "flush-every", 500*time.Millisecond, "flush a partial batch this often (env: SIMON_FLUSH_EVERY)")
	fs.DurationVar(&cfg.PopTimeout, "pop-timeout", 3*time.Second, "how long one BLPOP waits (env: SIMON_POP_TIMEOUT)")
	fs.DurationVar(&cfg.Inactivity, "inactivity", 10*time.Minute, "mark rooms abandoned after this long without actions; 0 disables (env: SIMON_INACTIVITY)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "logrus level (env: SIMON_LOG_LEVEL)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log at debug level (env: SIMON_VERBOSE)")

	BindEnv(v, fs)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("simon-historian v{{.Version}}\n")

	return cmd
}
