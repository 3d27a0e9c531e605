package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("saferoute-test")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "server.db", cfg.Store.SQLitePath)
	assert.InDelta(t, 0.01, cfg.Avoid.MarginDegrees, 1e-12)
	assert.Equal(t, 300, cfg.Avoid.CacheTTL)
	assert.Zero(t, cfg.Avoid.MaxSpanKm)
	assert.Equal(t, "saferoute-test", cfg.Telemetry.ServiceName)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SAFEROUTE_STORE_DRIVER", "sqlite")
	t.Setenv("SAFEROUTE_STORE_SQLITE_PATH", "/var/lib/saferoute/server.db")
	t.Setenv("SAFEROUTE_AVOID_MARGIN_DEGREES", "0.02")

	cfg, err := Load("saferoute-test")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/saferoute/server.db", cfg.Store.SQLitePath)
	assert.InDelta(t, 0.02, cfg.Avoid.MarginDegrees, 1e-12)
}

func TestLoad_BarePort(t *testing.T) {
	t.Setenv("PORT", "4567")

	cfg, err := Load("saferoute-test")
	require.NoError(t, err)
	assert.Equal(t, 4567, cfg.Server.Port)
}

func TestLoad_NamespacedPortWins(t *testing.T) {
	t.Setenv("PORT", "4567")
	t.Setenv("SAFEROUTE_SERVER_PORT", "9090")

	cfg, err := Load("saferoute-test")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_BadPort(t *testing.T) {
	t.Setenv("PORT", "http")

	_, err := Load("saferoute-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be an integer")
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{Port: 0, ReadTimeout: 10, WriteTimeout: 10, RequestTimeout: 15},
		Store:  StoreConfig{Driver: "mongo"},
		Avoid:  AvoidConfig{MarginDegrees: 0},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "server.port")
	assert.Contains(t, msg, "store.driver")
	assert.Contains(t, msg, "avoid.margin_degrees")
	assert.Equal(t, 3, strings.Count(msg, "\n  - "))
}

func TestValidate_MemoryDriverNeedsNoDatabase(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{Port: 8080, ReadTimeout: 10, WriteTimeout: 10, RequestTimeout: 15},
		Store:  StoreConfig{Driver: DriverMemory},
		Avoid:  AvoidConfig{MarginDegrees: 0.01, CacheTTL: 300},
	}
	assert.NoError(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "incidents", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/incidents?sslmode=disable", d.DSN())
}
