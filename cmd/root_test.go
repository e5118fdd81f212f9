package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint-repair/buyback/internal/config"
	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/pricing"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "ingest", "recalculate", "margins", "quote", "max-price", "logs", "migrate", "rows"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "buyback", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestIngestCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "url", "source", "recalculate"} {
		assert.NotNil(t, ingestCmd.Flags().Lookup(name), "ingest should have --%s flag", name)
	}
}

func TestRowsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rowsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "override", "deactivate", "activate"} {
		assert.True(t, names[name], "rows should have subcommand %q", name)
	}
}

func TestApplyOverrides(t *testing.T) {
	o := model.GradePrices{GradeB: model.Float(300)}
	require.NoError(t, applyOverrides(&o, []string{"gradeA=475", "doa=$12.50", "gradeB="}))
	assert.Equal(t, 475.0, *o.GradeA)
	assert.Equal(t, 12.5, *o.DOA)
	assert.Nil(t, o.GradeB)

	tests := []string{"gradeA", "gradeE=10", "gradeA=-1", "gradeA=lots"}
	for _, s := range tests {
		assert.Error(t, applyOverrides(&o, []string{s}), s)
	}
}

func TestFormatLogs(t *testing.T) {
	var buf bytes.Buffer
	formatLogs(&buf, []model.PricingUpdateLog{
		{Source: "atlas", Status: model.UpdateStatusPartial, RowsAdded: 9, Errors: "line 6: bad\nline 8: worse", CreatedAt: time.Now()},
		{Source: "recalculation", Status: model.UpdateStatusSuccess, RowsUpdated: 40, CreatedAt: time.Now()},
	})
	out := buf.String()
	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "line 6: bad (+1 more)")
	assert.Contains(t, out, "recalculation")
}

func TestFormatMaxPrices(t *testing.T) {
	var buf bytes.Buffer
	formatMaxPrices(&buf, map[string]float64{"iPhone 15 Pro": 440, "Galaxy S3": 0})
	out := buf.String()
	assert.Contains(t, out, "$440.00")
	assert.Regexp(t, `Galaxy S3\s+-`, out)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Galaxy")), bytes.Index(buf.Bytes(), []byte("iPhone")))
}

func TestWriteMargins(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMargins(&buf, model.DefaultMarginConfig(), "yaml"))
	assert.Contains(t, buf.String(), "mode: percentage")

	buf.Reset()
	require.NoError(t, writeMargins(&buf, model.DefaultMarginConfig(), "json"))
	assert.Contains(t, buf.String(), `"percentageMargins"`)

	assert.Error(t, writeMargins(&buf, model.DefaultMarginConfig(), "toml"))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "cmd.db")},
		Settings: config.SettingsConfig{
			Backend: "store", Key: "margin_settings", CacheTTLSecs: 60,
			BreakerFailures: 5, BreakerResetSecs: 30,
		},
		Ingest:  config.IngestConfig{Source: "atlas", TimeoutSecs: 5, MaxRetries: 1},
		Pricing: config.PricingConfig{MaxPriceConcurrency: 2},
	}
}

func TestInitEnv_SQLite(t *testing.T) {
	cfg = testConfig(t)
	ctx := context.Background()

	env, err := initEnv(ctx, "cli")
	require.NoError(t, err)
	defer env.Close()

	require.NoError(t, env.Store.InsertPriceRow(ctx, &model.PriceRow{
		Model: "iPhone 15 Pro 256GB Unlocked", DeviceType: "iPhone", ModelName: "iPhone 15 Pro",
		Storage: "256GB", Network: "Unlocked", Series: "15", IsActive: true,
		Prices: model.GradePrices{GradeA: model.Float(500)},
	}))

	q, err := env.Quotes.Quote(ctx, pricing.QuoteRequest{
		Model: "iPhone 15 Pro", Storage: "256GB", Network: "Unlocked", Condition: "mint",
	})
	require.NoError(t, err)
	assert.Equal(t, 440.0, q.OfferPrice)

	res, err := env.Recalc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 440.0, env.Prices.MaxPrice(ctx, "iPhone 15 Pro"))
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initEnv(context.Background(), "cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}
