package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const (
	testToken    = "0x00000000000000000000000000000000000000a1"
	testBorrower = "0x00000000000000000000000000000000000000b0"
)

func wadString(t *testing.T, raw string) *big.Int {
	t.Helper()
	v, err := ParseDecimal(raw, 18)
	require.NoError(t, err)
	return v
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "poolsd.toml", `Environment = "staging"
PositionLedger = "0x00000000000000000000000000000000000000e0"

[Server]
ListenAddress = "127.0.0.1:9090"

[Storage]
Backend = "memory"

[Auth]
JWTSecret = "s3cret"

[RateLimit]
RequestsPerMinute = 120

[EventLog]
Driver = "sqlite"
DSN = "file::memory:"

[Vault]
Custody = "0x00000000000000000000000000000000000000c0"

[[Vault.Assets]]
Token = "`+testToken+`"
APR = "0.03"

[[Pools]]
Name = " acme "
Borrower = "`+testBorrower+`"
Underlying = "`+testToken+`"
TokenDecimals = 6
MinRate = "0.05"
MaxRate = "0.2"
RateSpacing = "0.005"
MaxBorrowableAmount = "1000"
LoanDurationSecs = 31536000
RepaymentPeriodSecs = 172800
EstablishmentFeeRate = "0.01"
EarlyRepay = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "127.0.0.1:9090", cfg.Server.ListenAddress)
	require.Equal(t, 120, cfg.RateLimit.Burst)
	require.Equal(t, "s3cret", cfg.Auth.Secret())
	require.Len(t, cfg.Pools, 1)
	require.Equal(t, "acme", cfg.Pools[0].Name)

	params, err := cfg.Pools[0].Parameters()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testToken), params.Underlying)
	require.Equal(t, uint8(6), params.TokenDecimals)
	require.Equal(t, big.NewInt(5e16), params.MinRate)
	require.Equal(t, wadString(t, "1000"), params.MaxBorrowableAmount)
	require.Equal(t, big.NewInt(1e16), params.EstablishmentFeeRate)
	require.Equal(t, 0, params.RepaymentFeeRate.Sign())
	require.True(t, params.EarlyRepay)

	borrower, err := cfg.Pools[0].BorrowerAddress()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testBorrower), borrower)

	token, apr, err := cfg.Vault.Assets[0].Parse()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testToken), token)
	require.Equal(t, big.NewInt(3e16), apr)

	ledger, err := cfg.LedgerAddress()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xe0"), ledger)
}

func TestLoadRejectsUnknownTOMLField(t *testing.T) {
	path := writeFile(t, "poolsd.toml", "Bogus = 1\n[Auth]\nJWTSecret = \"x\"\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown field")
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "poolsd.yaml", `environment: test
storage:
  backend: bolt
  path: /tmp/poolsd.db
auth:
  jwt_secret: yaml-secret
logging:
  level: debug
pools:
  - name: beta
    underlying: `+testToken+`
    token_decimals: 18
    min_rate: "0.01"
    max_rate: "0.1"
    rate_spacing: "0.01"
    max_borrowable_amount: "50"
    loan_duration_secs: 86400
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "bolt", cfg.Storage.Backend)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, ":8080", cfg.Server.ListenAddress)
	params, err := cfg.Pools[0].Parameters()
	require.NoError(t, err)
	require.Equal(t, wadString(t, "50"), params.MaxBorrowableAmount)

	borrower, err := cfg.Pools[0].BorrowerAddress()
	require.NoError(t, err)
	require.Equal(t, common.Address{}, borrower)

	ledger, err := cfg.LedgerAddress()
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, ledger)
}

func TestLoadMissingYAMLFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestLoadCreatesDefault(t *testing.T) {
	t.Setenv("POOLSD_JWT_SECRET", "from-env")
	t.Setenv("POOLSD_LISTEN", "0.0.0.0:7070")
	path := filepath.Join(t.TempDir(), "nested", "poolsd.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "0.0.0.0:7070", cfg.Server.ListenAddress)
	require.Equal(t, defaultStorageBackend, cfg.Storage.Backend)
	require.Equal(t, "from-env", cfg.Auth.Secret())

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Storage, again.Storage)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"POOLSD_STORAGE_BACKEND": "memory",
		"POOLSD_EVENTLOG_DRIVER": "postgres",
		"POOLSD_EVENTLOG_DSN":    "postgres://localhost/pools",
		"POOLSD_LOG_LEVEL":       "  ",
	}
	cfg := Default()
	cfg.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "postgres", cfg.EventLog.Driver)
	require.Equal(t, "postgres://localhost/pools", cfg.EventLog.DSN)
	require.Equal(t, "info", cfg.Logging.Level)
}

func validConfig() *Config {
	cfg := Default()
	cfg.Storage.Backend = "memory"
	cfg.Auth.JWTSecret = "secret"
	cfg.Pools = []PoolDefinition{{
		Name:                "acme",
		Underlying:          testToken,
		TokenDecimals:       6,
		MinRate:             "0.05",
		MaxRate:             "0.2",
		RateSpacing:         "0.005",
		MaxBorrowableAmount: "1000",
		LoanDurationSecs:    3600,
	}}
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(*Config){
		"backend":      func(c *Config) { c.Storage.Backend = "redis" },
		"bolt path":    func(c *Config) { c.Storage.Backend, c.Storage.Path = "bolt", "" },
		"secret":       func(c *Config) { c.Auth.JWTSecret, c.Auth.JWTSecretEnv = "", "" },
		"ledger":       func(c *Config) { c.PositionLedger = "0x1234" },
		"event log":    func(c *Config) { c.EventLog.Driver = "sqlite" },
		"driver":       func(c *Config) { c.EventLog.Driver, c.EventLog.DSN = "mysql", "dsn" },
		"quota":        func(c *Config) { c.Quota = Quota{MaxRequestsPerEpoch: 5} },
		"sample ratio": func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
		"duplicate":    func(c *Config) { c.Pools = append(c.Pools, c.Pools[0]) },
		"spacing":      func(c *Config) { c.Pools[0].RateSpacing = "0.04" },
		"max rate":     func(c *Config) { c.Pools[0].MaxRate = "" },
		"borrower":     func(c *Config) { c.Pools[0].Borrower = "nope" },
		"custody":      func(c *Config) { c.Vault.Assets = []VaultAsset{{Token: testToken}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestParseDecimal(t *testing.T) {
	v, err := ParseDecimal("1.5", 6)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_500_000), v)

	v, err = ParseDecimal(".25", 2)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(25), v)

	v, err = ParseDecimal("000", 18)
	require.NoError(t, err)
	require.Equal(t, 0, v.Sign())

	for _, bad := range []string{"", "1.234", "-1", "1e3", "1.2.3"} {
		_, err := ParseDecimal(bad, 2)
		require.Error(t, err, bad)
	}

	_, err = ParseDecimal("1"+strings.Repeat("0", 80), 0)
	require.Error(t, err)
}
