package starmint

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starmint/starmint/starmint/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[log]
level = "debug"

[db]
driver = "sqlite"
path = ":memory:"

[pricing]
base_price_per_point = 2.5
batch_size = 50

[scoring]
system = "celestial-v2"

[tiers.quotas]
MYTHIC = 1
LEGENDARY = 2
ELITE = 3
PREMIUM = 4
EXCEPTIONAL = 5
STANDARD = 6
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "starmint.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func Test_LoadConfig(t *testing.T) {
	t.Setenv("STARMINT_DB_PATH", "/var/lib/starmint.db")
	t.Setenv("STARMINT_AUCTION_ANTI_SNIPE_WINDOW", "2m")
	t.Setenv("STARMINT_AUCTION_DENY_LIST", "mallory,trudy")
	t.Setenv("STARMINT_SCHEDULER_ENABLED", "false")

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
	assert.Equal(t, database.DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, "/var/lib/starmint.db", cfg.DB.Path)
	assert.Equal(t, 2.5, cfg.Pricing.BasePricePerPoint)
	assert.Equal(t, 50, cfg.Pricing.BatchSize)
	assert.Equal(t, 6, cfg.Tiers.Quotas["STANDARD"])
	assert.Equal(t, 2*time.Minute, cfg.Auction.AntiSnipeWindow)
	assert.Equal(t, []string{"mallory", "trudy"}, cfg.Auction.DenyList)
	assert.False(t, cfg.Scheduler.Enabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().HTTP, cfg.HTTP)
	assert.Equal(t, DefaultConfig().Pricing.FloorMultiplier, cfg.Pricing.FloorMultiplier)
}

func Test_LoadConfig_Defaults(t *testing.T) {
	t.Setenv("STARMINT_DB_DRIVER", "sqlite")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
	assert.Equal(t, 10000, sumQuotas(cfg.Tiers.Quotas))
}

func Test_LoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "failed to open config")

	_, err = LoadConfig(writeConfig(t, "[db\ndriver ="))
	assert.ErrorContains(t, err, "failed to decode config")

	t.Setenv("STARMINT_AUCTION_ANTI_SNIPE_WINDOW", "soon")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "parse env")
}

func Test_Config_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "Defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "Unknown driver",
			mutate:  func(c *Config) { c.DB.Driver = "mysql" },
			wantErr: `unknown driver "mysql"`,
		},
		{
			name:    "Postgres without host",
			mutate:  func(c *Config) { c.DB.Host = "" },
			wantErr: "host and database are required",
		},
		{
			name:    "Negative batch size",
			mutate:  func(c *Config) { c.Pricing.BatchSize = -1 },
			wantErr: "pricing",
		},
		{
			name:    "Unknown tier",
			mutate:  func(c *Config) { c.Tiers.Quotas["COMMON"] = 3 },
			wantErr: `unknown tier "COMMON"`,
		},
		{
			name:    "Missing tier",
			mutate:  func(c *Config) { delete(c.Tiers.Quotas, "ELITE") },
			wantErr: "missing quota for tier ELITE",
		},
		{
			name:    "Unknown scoring system",
			mutate:  func(c *Config) { c.Scoring.System = "zodiac" },
			wantErr: "scoring",
		},
		{
			name:    "Negative anti-snipe window",
			mutate:  func(c *Config) { c.Auction.AntiSnipeWindow = -time.Second },
			wantErr: "anti-snipe window",
		},
		{
			name: "Zero sizes fall back to defaults",
			mutate: func(c *Config) {
				c.Pricing.CacheSize = 0
				c.Pricing.BatchSize = 0
				c.Notify.QueueSize = 0
			},
		},
		{
			name:    "Negative cache size",
			mutate:  func(c *Config) { c.Pricing.CacheSize = -1 },
			wantErr: "pricing",
		},
		{
			name:    "Negative queue",
			mutate:  func(c *Config) { c.Notify.QueueSize = -1 },
			wantErr: "queue size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func sumQuotas(q map[string]int) int {
	total := 0
	for _, n := range q {
		total += n
	}
	return total
}
