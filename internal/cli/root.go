// Package cli implements the diskcache command line tool.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cache "github.com/mxcd/go-diskcache"
	"github.com/mxcd/go-diskcache/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "DISKCACHE"

func NewRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "diskcache",
		Short:        "Inspect and modify a disk-backed LRU cache",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default is $XDG_CONFIG_HOME/diskcache/config.yaml)")
	flags.String("dir", defaultBaseDirectory(), "base directory holding the cache")
	flags.StringP("namespace", "n", "", "cache namespace")
	flags.Int64("capacity", cache.DefaultCapacity, "capacity in bytes")
	flags.String("log-level", "warn", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("redis-addr", "", "redis address to relay cache events through")
	flags.String("channel", "diskcache", "redis channel for relayed cache events")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd.AddCommand(
		newGetCmd(v),
		newSetCmd(v),
		newRemoveCmd(v),
		newClearCmd(v),
		newListCmd(v),
		newStatsCmd(v),
		newWatchCmd(v),
	)

	return cmd
}

func defaultBaseDirectory() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "diskcache")
}

func loadConfig(v *viper.Viper) error {
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "diskcache"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// session is an opened cache plus the relay publishing its events, if any.
type session struct {
	cache *cache.Cache
	relay *cache.RedisRelay
}

func (s *session) Close() {
	if s.relay != nil {
		s.relay.Close()
	}
}

func newLogger(cmd *cobra.Command, v *viper.Viper) zerolog.Logger {
	return logging.New(logging.Config{
		Level:      logging.ParseLevel(v.GetString("log-level")),
		Format:     v.GetString("log-format"),
		TimeFormat: "15:04:05",
		Output:     cmd.ErrOrStderr(),
	})
}

func openSession(cmd *cobra.Command, v *viper.Viper) (*session, error) {
	logger := newLogger(cmd, v)

	c, err := cache.New(&cache.Options{
		BaseDirectory: v.GetString("dir"),
		Namespace:     v.GetString("namespace"),
		Capacity:      v.GetInt64("capacity"),
		Logger:        &logger,
	})
	if err != nil {
		return nil, err
	}

	s := &session{cache: c}
	if addr := v.GetString("redis-addr"); addr != "" {
		relay, err := newRelay(v, &logger)
		if err != nil {
			return nil, err
		}
		relay.Attach(c)
		s.relay = relay
	}
	return s, nil
}

func newRelay(v *viper.Viper, logger *zerolog.Logger) (*cache.RedisRelay, error) {
	return cache.NewRedisRelay(&cache.RedisRelayOptions{
		RedisOptions: &redis.Options{
			Addr: v.GetString("redis-addr"),
		},
		ChannelName: v.GetString("channel"),
		Logger:      logger,
	})
}
