package config

import (
	"github.com/vietddude/swapd/internal/executor"
	"github.com/vietddude/swapd/internal/infra/chainrpc"
	"github.com/vietddude/swapd/internal/infra/redisx"
	"github.com/vietddude/swapd/internal/infra/storage/postgres"
	"github.com/vietddude/swapd/internal/liquidity"
	"github.com/vietddude/swapd/internal/planner"
	"github.com/vietddude/swapd/internal/publish"
	"github.com/vietddude/swapd/internal/reconciler"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig      `yaml:"server"`
	Chain      ChainConfig       `yaml:"chain"`
	Planner    planner.Config    `yaml:"planner"`
	Liquidity  liquidity.Config  `yaml:"liquidity"`
	Executor   executor.Config   `yaml:"executor"`
	Reconciler reconciler.Config `yaml:"reconciler"`
	Publish    publish.Config    `yaml:"publish"`
	Redis      redisx.Config     `yaml:"redis"`
	Database   postgres.Config   `yaml:"database"`
	Keys       KeyConfig         `yaml:"keys"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ChainConfig holds settings for the target blockchain.
type ChainConfig struct {
	NetworkID uint64          `yaml:"network_id"`
	Endpoints []string        `yaml:"endpoints"` // ordered, primary first
	RPC       chainrpc.Config `yaml:"rpc"`
}

// KeyConfig holds key vault settings. The master secret itself never lives in
// the config file; only the name of the environment variable carrying it.
type KeyConfig struct {
	MasterSecretEnv string `yaml:"master_secret_env"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
