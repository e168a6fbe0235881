package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/auth-platform/savecache-service/internal/app"
	"github.com/auth-platform/savecache-service/internal/composition"
	"github.com/auth-platform/savecache-service/internal/config"
	"github.com/auth-platform/savecache-service/internal/flush"
	"github.com/auth-platform/savecache-service/internal/resilience"
	"github.com/auth-platform/savecache-service/internal/save"
)

func testConfig(driver, dsn string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
		},
		Cache: config.CacheConfig{
			Enabled:          true,
			Backend:          "memory",
			FlushInterval:    time.Hour,
			FlushTimeout:     10 * time.Second,
			FlushConcurrency: 4,
		},
		Database: config.DatabaseConfig{
			Driver:       driver,
			DSN:          dsn,
			MaxOpenConns: 1,
			AutoMigrate:  true,
			Accounts:     []string{"alice"},
		},
		Broker:  config.BrokerConfig{Type: "none"},
		Auth:    config.AuthConfig{JWTSecret: "test-secret-key-for-jwt-signing", Issuer: "savecache-service", AdminScope: "cache:admin"},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Tracing: config.TracingConfig{ServiceName: "savecache-service"},
		Breaker: resilience.DefaultBreakerConfig(),
	}
}

func testRegistry() app.MetricsRegistry {
	reg := prometheus.NewRegistry()
	return app.MetricsRegistry{Registerer: reg, Gatherer: reg}
}

func TestGraphIsComplete(t *testing.T) {
	err := fx.ValidateApp(app.Options(testConfig("memory", ""), testRegistry()))
	require.NoError(t, err)
}

func TestEndToEnd(t *testing.T) {
	for _, tc := range []struct{ driver, dsn string }{
		{"memory", ""},
		{"sqlite", ":memory:"},
	} {
		t.Run(tc.driver, func(t *testing.T) {
			var (
				comp       *composition.Service
				services   *app.Services
				controller *flush.Controller
			)
			fxApp := fxtest.New(t,
				app.Options(testConfig(tc.driver, tc.dsn), testRegistry()),
				fx.Populate(&comp, &services, &controller),
			)
			fxApp.RequireStart()
			defer fxApp.RequireStop()
			ctx := context.Background()

			created, err := comp.CreateSave(ctx, composition.CreateSaveRequest{
				Owner:    "alice",
				Nickname: "hero",
				Currency: &save.Currency{Gold: save.Int(10)},
			})
			require.NoError(t, err)
			id := created.ID()
			require.NotEmpty(t, id)

			require.NoError(t, services.Currency.Command.UpdateCache(ctx, id, save.Currency{Gold: save.Int(99)}))

			full, err := comp.GetFullSave(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(99), save.Value(full.Currency.Gold))
			assert.Equal(t, "hero", save.Value(full.Metadata.Nickname))

			toggle, err := controller.SetEnabled(ctx, false)
			require.NoError(t, err)
			require.NotNil(t, toggle.Flush)
			assert.Equal(t, 1, toggle.Flush.Persisted())

			full, err = comp.GetFullSave(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(99), save.Value(full.Currency.Gold))

			require.NoError(t, comp.CheckOwnership(ctx, id, "alice"))
			assert.True(t, save.IsForbidden(comp.CheckOwnership(ctx, id, "ALICE")))

			unnamed, err := comp.CreateSave(ctx, composition.CreateSaveRequest{Owner: "alice"})
			require.NoError(t, err)
			assert.Nil(t, unnamed.Metadata.Nickname)
			require.NoError(t, comp.DeleteSave(ctx, id))
			_, err = comp.GetFullSave(ctx, id)
			assert.True(t, save.IsNotFound(err))
		})
	}
}
