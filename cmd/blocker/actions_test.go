package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book000/twitter-bulk-blocker/internal/config"
)

func TestIsNumeric(t *testing.T) {
	assert.True(t, isNumeric("123456"))
	assert.False(t, isNumeric("someuser"))
	assert.False(t, isNumeric(""))
	assert.False(t, isNumeric("12a"))
}

func TestApplyFlagOverrides_OnlyOverridesSetFlags(t *testing.T) {
	t.Cleanup(func() {
		flagCookiesPath = ""
		flagUsersFile = ""
		flagDBPath = ""
		flagCacheDir = ""
		flagBatchSize = 0
		flagDelay = 0
		flagDebug = false
	})

	cfg := &config.Config{CookiesPath: "default-cookies.json", BatchSize: 50}
	flagCookiesPath = "override-cookies.json"
	applyFlagOverrides(cfg)

	assert.Equal(t, "override-cookies.json", cfg.CookiesPath)
	assert.Equal(t, 50, cfg.BatchSize, "batch size flag left at zero value should not override the config default")
}
