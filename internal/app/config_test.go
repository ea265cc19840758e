package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "ship", cfg.SalesStockDecrement)
	require.Equal(t, "postgres", cfg.SequenceBackend)
	require.Equal(t, 5, cfg.TxMaxAttempts)
	require.Equal(t, 2*time.Minute, cfg.StockCacheTTL)
	require.False(t, cfg.AllowNegativeStock)
	require.False(t, cfg.AllowOverReceipt)
	require.Equal(t, []string{"127.0.0.1:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "30 3 * * *", cfg.PruneCron)
	require.Equal(t, 5, cfg.WorkerConcurrency)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SALES_STOCK_DECREMENT", " Confirm ")
	t.Setenv("SEQUENCE_BACKEND", "redis")
	t.Setenv("ALLOW_OVER_RECEIPT", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "confirm", cfg.SalesStockDecrement)
	require.Equal(t, "redis", cfg.SequenceBackend)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.AllowOverReceipt)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoadConfigRejectsUnknownValues(t *testing.T) {
	cases := map[string]string{
		"SALES_STOCK_DECREMENT": "invoice",
		"SEQUENCE_BACKEND":      "etcd",
		"LOG_LEVEL":             "chatty",
		"TX_MAX_ATTEMPTS":       "0",
		"RATE_LIMIT_PER_MINUTE": "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestLogLevel(t *testing.T) {
	require.Equal(t, "DEBUG", logLevel(&Config{LogLevel: "debug"}).String())
	require.Equal(t, "INFO", logLevel(nil).String())
	require.NotNil(t, NewLogger(&Config{LogFormat: "json", LogLevel: "warn"}))
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(TestModeEnv, "true")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(TestModeEnv, "nope")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
}
