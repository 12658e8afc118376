// Package config loads coordroomd's YAML configuration file and applies
// flag overrides, in the style of the teacher's agents.LoadTeamsConfig.
package config

import (
	"flag"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coordroom/coordroom/internal/room"
	"github.com/coordroom/coordroom/internal/store"
)

// RetryConfig mirrors store.RetryPolicy in YAML-friendly form.
type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	BaseMs   int `yaml:"baseMs"`
	Factor   int `yaml:"factor"`
}

// Config holds every setting spec.md §6 calls out as configurable,
// plus the SPEC_FULL §2.B additions (listen address, store path, broadcast
// signing key, embedded NATS port).
type Config struct {
	HeartbeatIntervalSec      int         `yaml:"heartbeatIntervalSec"`
	BlockedSummaryIntervalSec int         `yaml:"blockedSummaryIntervalSec"`
	UnblockPingIntervalSec    int         `yaml:"unblockPingIntervalSec"`
	MaxQueryHistory           int         `yaml:"maxQueryHistory"`
	MaxCoordinationPatterns   int         `yaml:"maxCoordinationPatterns"`
	StoreRetry                RetryConfig `yaml:"storeRetry"`

	ListenAddr            string `yaml:"listenAddr"`
	DBPath                string `yaml:"dbPath"`
	BroadcastSharedSecret string `yaml:"broadcastSharedSecret"`
	NATSEmbeddedPort      int    `yaml:"natsEmbeddedPort"`

	// SnapshotDir enables RoomSnapshot persistence (SPEC_FULL §4) when
	// non-empty: one YAML file per room id is written on clean shutdown
	// and loaded on rehydration. Empty disables it, matching spec.md §9's
	// "implementer option" framing.
	SnapshotDir string `yaml:"snapshotDir"`
}

// Default matches spec.md §6's configuration defaults table.
func Default() Config {
	return Config{
		HeartbeatIntervalSec:      30,
		BlockedSummaryIntervalSec: 20,
		UnblockPingIntervalSec:    10,
		MaxQueryHistory:           100,
		MaxCoordinationPatterns:   50,
		StoreRetry:                RetryConfig{Attempts: 3, BaseMs: 150, Factor: 2},
		ListenAddr:                ":8765",
		DBPath:                    "coordroom.db",
		NATSEmbeddedPort:          0,
	}
}

// Load registers its flags on fs, parses args, reads the -config YAML file
// (if given) over the defaults, then re-applies any flags the user
// explicitly passed so CLI flags always win over the file.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()

	configPath := fs.String("config", "", "YAML configuration file (optional)")
	listenAddr := fs.String("listen", cfg.ListenAddr, "HTTP/WS listen address")
	dbPath := fs.String("db", cfg.DBPath, "SQLite database path")
	secret := fs.String("broadcast-secret", cfg.BroadcastSharedSecret, "HMAC signing key for /broadcast")
	natsPort := fs.Int("nats-port", cfg.NATSEmbeddedPort, "embedded NATS relay port (0 disables)")
	snapshotDir := fs.String("snapshot-dir", cfg.SnapshotDir, "directory for room-state snapshots (empty disables persistence)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listenAddr
		case "db":
			cfg.DBPath = *dbPath
		case "broadcast-secret":
			cfg.BroadcastSharedSecret = *secret
		case "nats-port":
			cfg.NATSEmbeddedPort = *natsPort
		case "snapshot-dir":
			cfg.SnapshotDir = *snapshotDir
		}
	})

	return cfg, nil
}

// RoomConfig projects this config onto room.Config.
func (c Config) RoomConfig() room.Config {
	return room.Config{
		HeartbeatInterval:       time.Duration(c.HeartbeatIntervalSec) * time.Second,
		BlockedSummaryInterval:  time.Duration(c.BlockedSummaryIntervalSec) * time.Second,
		UnblockPingInterval:     time.Duration(c.UnblockPingIntervalSec) * time.Second,
		MaxQueryHistory:         c.MaxQueryHistory,
		MaxCoordinationPatterns: c.MaxCoordinationPatterns,
	}
}

// StoreRetryPolicy projects this config onto store.RetryPolicy.
func (c Config) StoreRetryPolicy() store.RetryPolicy {
	return store.RetryPolicy{
		Attempts: c.StoreRetry.Attempts,
		BaseMs:   c.StoreRetry.BaseMs,
		Factor:   float64(c.StoreRetry.Factor),
	}
}
