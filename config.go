package witness

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML strings like "6s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the top-level node configuration.
type Config struct {
	NodeID string `toml:"node_id"`

	// CheckpointDBPath is the path to the SQLite database for persisting
	// witnessed-until checkpoints. If empty, defaults to "checkpoints.db".
	CheckpointDBPath string `toml:"checkpoint_db_path"`
	// CheckpointFlushInterval bounds checkpoint I/O; updates are coalesced
	// between flushes.
	CheckpointFlushInterval Duration `toml:"checkpoint_flush_interval"`

	// InfoServerAddr is the listen address of the HTTP info/health server.
	// Empty disables the server.
	InfoServerAddr string `toml:"info_server_addr"`

	// Chains configures one witnessing pipeline per chain, keyed by chain
	// name, e.g. [chains.bitcoin].
	Chains map[string]ChainConfig `toml:"chains"`

	Monitoring MonitoringConfig `toml:"monitoring"`
}

// ChainConfig configures one chain's pipeline.
type ChainConfig struct {
	// Enabled gates whether this chain's pipeline is started at all.
	Enabled bool `toml:"enabled"`
	// RPCURL is the endpoint of the chain's RPC capability.
	RPCURL string `toml:"rpc_url"`
	// PollInterval is how often the source polls for a new best header.
	PollInterval Duration `toml:"poll_interval"`
	// SafetyMargin is the confirmation depth required before a block is
	// treated as final enough to witness, e.g. 6 for Bitcoin.
	SafetyMargin uint64 `toml:"safety_margin"`
	// TrackingPeriod is the emission period of the chain-tracking driver.
	TrackingPeriod Duration `toml:"tracking_period"`

	// VaultContract is the vault contract address, for chain families with an
	// on-chain vault (EVM).
	VaultContract string `toml:"vault_contract"`
	// Tokens maps watched token contract addresses to their ledger asset
	// symbols (EVM).
	Tokens map[string]string `toml:"tokens"`
	// DepositAddresses seeds the registered deposit-address set for
	// deployments without a live address feed.
	DepositAddresses []string `toml:"deposit_addresses"`
}

// MonitoringConfig configures the metrics exporter.
type MonitoringConfig struct {
	// Enabled enables the OTLP metrics exporter; when false all metric calls
	// are no-ops.
	Enabled bool `toml:"enabled"`
	// OtelExporterHTTPEndpoint is the collector endpoint metrics are exported
	// to, host:port.
	OtelExporterHTTPEndpoint string `toml:"otel_exporter_http_endpoint"`
	// ExportInterval is the periodic metric export interval.
	ExportInterval Duration `toml:"export_interval"`
}

// DefaultConfig returns a Config with the defaults applied.
func DefaultConfig() Config {
	return Config{
		CheckpointDBPath:        "checkpoints.db",
		CheckpointFlushInterval: Duration{10 * time.Second},
		Chains:                  make(map[string]ChainConfig),
	}
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("invalid configuration: node_id is required")
	}
	if c.CheckpointDBPath == "" {
		return fmt.Errorf("invalid configuration: checkpoint_db_path is required")
	}
	if c.CheckpointFlushInterval.Duration <= 0 {
		return fmt.Errorf("invalid configuration: checkpoint_flush_interval must be positive")
	}
	for name, chain := range c.Chains {
		if !chain.Enabled {
			continue
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("invalid configuration: chains.%s.rpc_url is required", name)
		}
		if chain.PollInterval.Duration <= 0 {
			return fmt.Errorf("invalid configuration: chains.%s.poll_interval must be positive", name)
		}
	}
	if c.Monitoring.Enabled && c.Monitoring.OtelExporterHTTPEndpoint == "" {
		return fmt.Errorf("invalid configuration: monitoring.otel_exporter_http_endpoint is required when monitoring is enabled")
	}
	return nil
}
