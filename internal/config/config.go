// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jason-s-yu/simon/internal/game"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every flag name to form its environment
// variable, e.g. --lobby-duration is read from SIMON_LOBBY_DURATION.
const EnvPrefix = "SIMON"

// Config holds every server setting.
type Config struct {
	Bind      string
	Port      int
	Prefix    string
	StaticDir string
	PublicURL string

	LogLevel string
	Verbose  bool

	LobbyDuration  time.Duration
	LobbyTick      time.Duration
	PreRoundDelay  time.Duration
	InputBuffer    time.Duration
	NextRoundDelay time.Duration
	TeardownDelay  time.Duration
	LastStanding   bool

	QueueSize int

	RedisAddr  string
	RedisDB    int
	RedisQueue string
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	durations := map[string]time.Duration{
		"lobby-duration":   c.LobbyDuration,
		"lobby-tick":       c.LobbyTick,
		"pre-round-delay":  c.PreRoundDelay,
		"next-round-delay": c.NextRoundDelay,
		"teardown-delay":   c.TeardownDelay,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("--%s must be positive, got %s", name, d)
		}
	}
	if c.InputBuffer < 0 {
		return fmt.Errorf("--input-buffer must not be negative, got %s", c.InputBuffer)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("--queue-size must be at least 1, got %d", c.QueueSize)
	}
	if c.Prefix != "" && !strings.HasPrefix(c.Prefix, "/") {
		return errors.New("--prefix must start with /")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	if c.RedisAddr != "" && c.RedisQueue == "" {
		return errors.New("--redis-queue must be set when --redis-addr is")
	}
	return nil
}

// Timings converts the delay settings for the game package.
func (c *Config) Timings() game.Timings {
	return game.Timings{
		LobbyDuration:  c.LobbyDuration,
		LobbyTick:      c.LobbyTick,
		PreRoundDelay:  c.PreRoundDelay,
		InputBuffer:    c.InputBuffer,
		NextRoundDelay: c.NextRoundDelay,
		TeardownDelay:  c.TeardownDelay,
	}
}

// EndPolicy is the configured game-over rule.
func (c *Config) EndPolicy() game.EndPolicy {
	if c.LastStanding {
		return game.EndAtLastStanding
	}
	return game.EndWhenNoneAlive
}

// Level is the logrus level to run at. --verbose wins over --log-level.
func (c *Config) Level() logrus.Level {
	if c.Verbose {
		return logrus.DebugLevel
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewCommand builds the root command. Flags are filled into cfg, with
// environment variables as fallback, before run is called.
func NewCommand(cfg *Config, version string, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "simon",
		Short:         "Multiplayer pattern-memory game server.",
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

	defaults := game.DefaultTimings()

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: SIMON_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: SIMON_PORT)")
	fs.StringVar(&cfg.Prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SIMON_PREFIX)")
	fs.StringVar(&cfg.StaticDir, "static-dir", "", "directory of client files to serve at / (env: SIMON_STATIC_DIR)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "URL encoded by /qr; derived from the request when empty (env: SIMON_PUBLIC_URL)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "logrus level: debug, info, warn, error (env: SIMON_LOG_LEVEL)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log at debug level (env: SIMON_VERBOSE)")

	fs.DurationVar(&cfg.LobbyDuration, "lobby-duration", defaults.LobbyDuration, "time a lobby stays open before the game auto-starts (env: SIMON_LOBBY_DURATION)")
	fs.DurationVar(&cfg.LobbyTick, "lobby-tick", defaults.LobbyTick, "interval between lobby countdown broadcasts (env: SIMON_LOBBY_TICK)")
	fs.DurationVar(&cfg.PreRoundDelay, "pre-round-delay", defaults.PreRoundDelay, "delay between game start and round 1 (env: SIMON_PRE_ROUND_DELAY)")
	fs.DurationVar(&cfg.InputBuffer, "input-buffer", defaults.InputBuffer, "slack added to playback before input opens (env: SIMON_INPUT_BUFFER)")
	fs.DurationVar(&cfg.NextRoundDelay, "next-round-delay", defaults.NextRoundDelay, "pause between a round summary and the next round (env: SIMON_NEXT_ROUND_DELAY)")
	fs.DurationVar(&cfg.TeardownDelay, "teardown-delay", defaults.TeardownDelay, "time a finished room lingers before it is removed (env: SIMON_TEARDOWN_DELAY)")
	fs.BoolVar(&cfg.LastStanding, "last-standing", false, "end multi-player games when one player is left alive (env: SIMON_LAST_STANDING)")

	fs.IntVar(&cfg.QueueSize, "queue-size", 64, "outbound events buffered per connection (env: SIMON_QUEUE_SIZE)")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for the room action log; empty disables it (env: SIMON_REDIS_ADDR)")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database index (env: SIMON_REDIS_DB)")
	fs.StringVar(&cfg.RedisQueue, "redis-queue", "simon_actions", "redis list receiving room actions (env: SIMON_REDIS_QUEUE)")

	BindEnv(v, fs)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("simon v{{.Version}}\n")

	return cmd
}

// BindEnv applies environment overrides to every flag the user did not set.
func BindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
