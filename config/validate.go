package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"ratebook/crypto"
	"ratebook/native/pools"
)

const (
	normalizedDecimals = 18
	defaultLedgerLabel = "ratebook/positions"
)

var errEmptyDecimal = errors.New("empty decimal")

// Validate checks the configuration after defaults were applied.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Auth.Secret() == "" {
		return fmt.Errorf("auth: jwt secret required")
	}
	if _, err := cfg.LedgerAddress(); err != nil {
		return fmt.Errorf("position_ledger: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Quota.MaxRequestsPerEpoch > 0 && cfg.Quota.EpochSeconds == 0 {
		return fmt.Errorf("quota: epoch_seconds required")
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	switch cfg.EventLog.Driver {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.EventLog.DSN) == "" {
			return fmt.Errorf("event_log: dsn required for %s", cfg.EventLog.Driver)
		}
	default:
		return fmt.Errorf("event_log: unknown driver %q", cfg.EventLog.Driver)
	}
	if err := cfg.Vault.validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	seen := make(map[string]struct{}, len(cfg.Pools))
	for i := range cfg.Pools {
		def := &cfg.Pools[i]
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("pools[%d]: duplicate name %q", i, def.Name)
		}
		seen[def.Name] = struct{}{}
		if _, err := def.Parameters(); err != nil {
			return fmt.Errorf("pools[%d] %s: %w", i, def.Name, err)
		}
		if _, err := def.BorrowerAddress(); err != nil {
			return fmt.Errorf("pools[%d] %s: borrower: %w", i, def.Name, err)
		}
	}
	return nil
}

// LedgerAddress returns the configured position ledger address, or one
// derived from a fixed label when none is set.
func (cfg *Config) LedgerAddress() (common.Address, error) {
	if cfg.PositionLedger == "" {
		return common.BytesToAddress(ethcrypto.Keccak256([]byte(defaultLedgerLabel))), nil
	}
	return crypto.ParseAddress(cfg.PositionLedger)
}

func (v Vault) validate() error {
	if len(v.Assets) == 0 {
		return nil
	}
	if _, err := crypto.ParseAddress(v.Custody); err != nil {
		return fmt.Errorf("custody: %w", err)
	}
	for i, asset := range v.Assets {
		if _, _, err := asset.Parse(); err != nil {
			return fmt.Errorf("assets[%d]: %w", i, err)
		}
	}
	return nil
}

// Parse returns the token address and the wad APR.
func (a VaultAsset) Parse() (common.Address, *big.Int, error) {
	token, err := crypto.ParseAddress(a.Token)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("token: %w", err)
	}
	apr, err := optionalDecimal(a.APR)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("apr: %w", err)
	}
	return token, apr, nil
}

// BorrowerAddress parses the optional borrower bound at startup.
func (d PoolDefinition) BorrowerAddress() (common.Address, error) {
	if strings.TrimSpace(d.Borrower) == "" {
		return common.Address{}, nil
	}
	return crypto.ParseAddress(d.Borrower)
}

// Parameters converts the definition into engine parameters.
func (d PoolDefinition) Parameters() (pools.PoolParameters, error) {
	var params pools.PoolParameters
	if d.Name == "" {
		return params, fmt.Errorf("name required")
	}
	underlying, err := crypto.ParseAddress(d.Underlying)
	if err != nil {
		return params, fmt.Errorf("underlying: %w", err)
	}
	params = pools.PoolParameters{
		Underlying:      underlying,
		TokenDecimals:   d.TokenDecimals,
		LoanDuration:    d.LoanDurationSecs,
		CooldownPeriod:  d.CooldownPeriodSecs,
		RepaymentPeriod: d.RepaymentPeriodSecs,
		EarlyRepay:      d.EarlyRepay,
	}
	fields := []struct {
		name     string
		raw      string
		dst      **big.Int
		required bool
	}{
		{"min_rate", d.MinRate, &params.MinRate, true},
		{"max_rate", d.MaxRate, &params.MaxRate, true},
		{"rate_spacing", d.RateSpacing, &params.RateSpacing, true},
		{"max_borrowable_amount", d.MaxBorrowableAmount, &params.MaxBorrowableAmount, true},
		{"late_repay_fee_per_bond_rate", d.LateRepayFeePerBondRate, &params.LateRepayFeePerBondRate, false},
		{"establishment_fee_rate", d.EstablishmentFeeRate, &params.EstablishmentFeeRate, false},
		{"repayment_fee_rate", d.RepaymentFeeRate, &params.RepaymentFeeRate, false},
		{"liquidity_rewards_distribution_rate", d.LiquidityRewardsDistributionRate, &params.LiquidityRewardsDistributionRate, false},
		{"liquidity_rewards_activation_threshold", d.LiquidityRewardsActivationThreshold, &params.LiquidityRewardsActivationThreshold, false},
	}
	for _, f := range fields {
		var value *big.Int
		if f.required {
			value, err = ParseDecimal(f.raw, normalizedDecimals)
		} else {
			value, err = optionalDecimal(f.raw)
		}
		if err != nil {
			return params, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = value
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

func optionalDecimal(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(big.Int), nil
	}
	return ParseDecimal(raw, normalizedDecimals)
}

// ParseDecimal converts a non-negative decimal string into an integer scaled
// by 10^decimals. More fractional digits than decimals is an error, as is a
// result beyond 256 bits.
func ParseDecimal(raw string, decimals uint8) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errEmptyDecimal
	}
	whole, frac, _ := strings.Cut(raw, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%q has more than %d decimals", raw, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%q is not a decimal number", raw)
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	value, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", raw, err)
	}
	return value.ToBig(), nil
}
