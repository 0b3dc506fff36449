package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseConfig() Config {
	return Config{
		ActiveScanIntervalMS: 500,
		IdleScanIntervalMS:   2000,
		MissBackoffMSMax:     8000,
		HitCooldownMS:        3000,
	}
}

func TestNextDelayDefaultsToActiveInterval(t *testing.T) {
	s := New(baseConfig())
	s.OnForegroundChange(true)
	assert.Equal(t, 500, s.NextDelayMS())
}

func TestNextDelayBacksOffExponentially(t *testing.T) {
	s := New(baseConfig())
	s.OnForegroundChange(true)
	s.OnMiss()
	assert.Equal(t, 1000, s.NextDelayMS())
	s.OnMiss()
	assert.Equal(t, 2000, s.NextDelayMS())
	s.OnMiss()
	assert.Equal(t, 4000, s.NextDelayMS())
}

func TestNextDelayBackoffCapsAtMax(t *testing.T) {
	s := New(baseConfig())
	s.OnForegroundChange(true)
	for i := 0; i < 10; i++ {
		s.OnMiss()
	}
	assert.Equal(t, 8000, s.NextDelayMS())
}

func TestNextDelayOffWhitelistUsesIdleInterval(t *testing.T) {
	s := New(baseConfig())
	s.OnForegroundChange(false)
	assert.Equal(t, 2000, s.NextDelayMS())
}

func TestNextDelayHitCooldownTakesPriority(t *testing.T) {
	s := New(baseConfig())
	s.OnForegroundChange(true)
	s.OnHit()
	assert.Equal(t, 3000, s.NextDelayMS())
}

func TestOnHitResetsBackoff(t *testing.T) {
	s := New(baseConfig())
	s.OnForegroundChange(true)
	s.OnMiss()
	s.OnMiss()
	s.OnHit()
	// lastHitTS is now recent, so cooldown wins over the reset backoff
	// until it elapses.
	assert.Equal(t, 3000, s.NextDelayMS())
	s.lastHitTS = time.Now().Add(-time.Hour)
	assert.Equal(t, 500, s.NextDelayMS())
}

func TestOnForegroundChangeResetsMissCount(t *testing.T) {
	s := New(baseConfig())
	s.OnForegroundChange(true)
	s.OnMiss()
	s.OnMiss()
	s.OnForegroundChange(true)
	assert.Equal(t, 500, s.NextDelayMS())
}
