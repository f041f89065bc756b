package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"PORT":                       "",
		"INVENTORY_BASE_URL":         "",
		"INVENTORY_TIMEOUT":          "",
		"PRICING_LOOKUP_CONCURRENCY": "",
		"PRICING_RULES_SOURCE":       "",
		"PRICING_RULES_JSON":         "",
		"DATABASE_URL":               "",
		"REDIS_URL":                  "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, ":5003", cfg.HTTPAddr())
	require.Equal(t, "http://127.0.0.1:5002/api/inventory", cfg.InventoryBaseURL)
	require.Equal(t, 2*time.Second, cfg.InventoryTimeout)
	require.Equal(t, "5002", cfg.InventoryPort())
	require.Equal(t, 1, cfg.LookupConcurrency)
	require.Equal(t, RulesSourceStatic, cfg.RulesSource)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = ":9000"
	env["INVENTORY_BASE_URL"] = "https://inventory.internal/api/inventory/"
	env["INVENTORY_TIMEOUT"] = "750ms"
	env["PRICING_LOOKUP_CONCURRENCY"] = "0"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddr())
	require.Equal(t, "https://inventory.internal/api/inventory", cfg.InventoryBaseURL)
	require.Equal(t, "443", cfg.InventoryPort())
	require.Equal(t, 750*time.Millisecond, cfg.InventoryTimeout)
	require.Equal(t, 1, cfg.LookupConcurrency)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"relative inventory url": {"INVENTORY_BASE_URL": "inventory/api"},
		"zero timeout":           {"INVENTORY_TIMEOUT": "0s"},
		"postgres without dsn":   {"PRICING_RULES_SOURCE": "postgres"},
		"unknown rule source":    {"PRICING_RULES_SOURCE": "yaml"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			env := baseEnv()
			for k, v := range overrides {
				env[k] = v
			}
			_, err := LoadForTests(env)
			require.Error(t, err)
		})
	}
}
