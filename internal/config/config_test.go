package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vixgate/internal/series"
)

func validConfig() Config {
	return Config{
		Mode:      "run",
		Symbol:    "SPY",
		Frequency: series.FreqDay,
		AssetCSV:  "spy.csv",
		VIXCSV:    "vix.csv",
		VVIXCSV:   "vvix.csv",
		Strategy:  "plain",
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	t.Run("bad mode", func(t *testing.T) {
		c := validConfig()
		c.Mode = "replay"
		assert.Error(t, c.Validate())
	})

	t.Run("bad frequency", func(t *testing.T) {
		c := validConfig()
		c.Frequency = "fortnight"
		assert.Error(t, c.Validate())
	})

	t.Run("run mode requires csv paths", func(t *testing.T) {
		c := validConfig()
		c.VIXCSV = ""
		assert.Error(t, c.Validate())
	})

	t.Run("bad strategy", func(t *testing.T) {
		c := validConfig()
		c.Strategy = "martingale"
		assert.Error(t, c.Validate())
	})

	t.Run("serve mode needs no csv paths", func(t *testing.T) {
		c := Config{Mode: "serve", Frequency: series.FreqDay}
		assert.NoError(t, c.Validate())
	})
}

func TestConfigApplyDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	assert.Equal(t, "run", c.Mode)
	assert.Equal(t, series.FreqDay, c.Frequency)
	assert.Equal(t, ":8080", c.ListenAddr)
	assert.Equal(t, 10, c.DBMaxOpen)
	assert.Equal(t, 5, c.DBMaxIdle)
	assert.Equal(t, 24*time.Hour, c.Retention)
}
