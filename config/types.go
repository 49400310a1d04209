package config

// Server controls the HTTP listener.
type Server struct {
	ListenAddress         string `toml:"ListenAddress" yaml:"listen"`
	ReadHeaderTimeoutSecs int    `toml:"ReadHeaderTimeoutSecs" yaml:"read_header_timeout_secs"`
	ShutdownTimeoutSecs   int    `toml:"ShutdownTimeoutSecs" yaml:"shutdown_timeout_secs"`
}

// Storage selects the key value backend of the state manager.
type Storage struct {
	// Backend is one of memory, leveldb or bolt.
	Backend string `toml:"Backend" yaml:"backend"`
	Path    string `toml:"Path" yaml:"path"`
}

// Auth configures HS256 bearer tokens.
type Auth struct {
	JWTSecret    string `toml:"JWTSecret" yaml:"jwt_secret"`
	JWTSecretEnv string `toml:"JWTSecretEnv" yaml:"jwt_secret_env"`
	Issuer       string `toml:"Issuer" yaml:"issuer"`
}

// RateLimit bounds requests per client address.
type RateLimit struct {
	RequestsPerMinute int `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int `toml:"Burst" yaml:"burst"`
}

// Quota caps authenticated mutations per caller and epoch.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch" yaml:"max_requests_per_epoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds" yaml:"epoch_seconds"`
}

// Telemetry wires the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// Logging mirrors observability/logging.Options.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

// EventLog persists emitted events for indexers. An empty Driver disables it.
type EventLog struct {
	// Driver is sqlite or postgres.
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

// VaultAsset configures the simulated yield vault for one token.
type VaultAsset struct {
	Token string `toml:"Token" yaml:"token"`
	// APR is a decimal fraction, e.g. "0.03" for 3%.
	APR string `toml:"APR" yaml:"apr"`
}

// Vault holds the yield vault custody account and assets.
type Vault struct {
	Custody string       `toml:"Custody" yaml:"custody"`
	Assets  []VaultAsset `toml:"Assets" yaml:"assets"`
}

// PoolDefinition creates a pool at startup when it does not exist yet. Rates
// and amounts are decimal strings in whole units ("0.05", "1000").
type PoolDefinition struct {
	Name                                string `toml:"Name" yaml:"name"`
	Borrower                            string `toml:"Borrower" yaml:"borrower"`
	Underlying                          string `toml:"Underlying" yaml:"underlying"`
	TokenDecimals                       uint8  `toml:"TokenDecimals" yaml:"token_decimals"`
	MinRate                             string `toml:"MinRate" yaml:"min_rate"`
	MaxRate                             string `toml:"MaxRate" yaml:"max_rate"`
	RateSpacing                         string `toml:"RateSpacing" yaml:"rate_spacing"`
	MaxBorrowableAmount                 string `toml:"MaxBorrowableAmount" yaml:"max_borrowable_amount"`
	LoanDurationSecs                    uint64 `toml:"LoanDurationSecs" yaml:"loan_duration_secs"`
	CooldownPeriodSecs                  uint64 `toml:"CooldownPeriodSecs" yaml:"cooldown_period_secs"`
	RepaymentPeriodSecs                 uint64 `toml:"RepaymentPeriodSecs" yaml:"repayment_period_secs"`
	LateRepayFeePerBondRate             string `toml:"LateRepayFeePerBondRate" yaml:"late_repay_fee_per_bond_rate"`
	EstablishmentFeeRate                string `toml:"EstablishmentFeeRate" yaml:"establishment_fee_rate"`
	RepaymentFeeRate                    string `toml:"RepaymentFeeRate" yaml:"repayment_fee_rate"`
	LiquidityRewardsDistributionRate    string `toml:"LiquidityRewardsDistributionRate" yaml:"liquidity_rewards_distribution_rate"`
	LiquidityRewardsActivationThreshold string `toml:"LiquidityRewardsActivationThreshold" yaml:"liquidity_rewards_activation_threshold"`
	EarlyRepay                          bool   `toml:"EarlyRepay" yaml:"early_repay"`
}
