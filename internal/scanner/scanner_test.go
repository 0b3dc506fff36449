package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/click"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/debugimage"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/events"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/locator"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/templatebank"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

func newTestOrchestrator() *Orchestrator {
	return New(nil, Config{}, locator.New(nil), nil, templatebank.New(nil, nil, false, false),
		click.New(nil), nil, events.New(), debugimage.New("", false, nil))
}

func TestRecordFaultTripsFaultedAtFiveWithinWindow(t *testing.T) {
	o := newTestOrchestrator()
	for i := 0; i < 4; i++ {
		o.recordFault(assertError{})
		assert.Equal(t, types.StateIdle, o.State(), "should not trip before the fifth fault")
	}
	o.recordFault(assertError{})
	assert.Equal(t, types.StateFaulted, o.State())
}

func TestFaultDelayEscalatesAndCaps(t *testing.T) {
	o := newTestOrchestrator()
	assert.Equal(t, faultBackoffBaseMS, o.faultDelayMS())

	o.recordFault(assertError{})
	assert.Equal(t, 1000, o.faultDelayMS())
	o.recordFault(assertError{})
	assert.Equal(t, 2000, o.faultDelayMS())
	o.recordFault(assertError{})
	assert.Equal(t, 4000, o.faultDelayMS())
	o.recordFault(assertError{})
	assert.Equal(t, faultBackoffMaxMS, o.faultDelayMS())
}

func TestPauseAndResumeToggleState(t *testing.T) {
	o := newTestOrchestrator()
	o.Pause()
	assert.Equal(t, types.StatePaused, o.State())
	o.Resume()
	assert.Equal(t, types.StateArming, o.State())
}

func TestPauseIsNoOpWhileFaulted(t *testing.T) {
	o := newTestOrchestrator()
	for i := 0; i < 5; i++ {
		o.recordFault(assertError{})
	}
	require.Equal(t, types.StateFaulted, o.State())
	o.Pause()
	assert.Equal(t, types.StateFaulted, o.State())
}

func TestResetClearsFaultHistoryAndReArms(t *testing.T) {
	o := newTestOrchestrator()
	for i := 0; i < 5; i++ {
		o.recordFault(assertError{})
	}
	require.Equal(t, types.StateFaulted, o.State())
	o.Reset()
	assert.Equal(t, types.StateArming, o.State())
	assert.Equal(t, faultBackoffBaseMS, o.faultDelayMS())
}

func TestBumpStreakResetsOtherTemplatesOnEachMatch(t *testing.T) {
	o := newTestOrchestrator()
	assert.Equal(t, 1, o.bumpStreak("a"))
	assert.Equal(t, 2, o.bumpStreak("a"))
	assert.Equal(t, 1, o.bumpStreak("b"))
	o.mu.Lock()
	aStreak := o.streaks["a"]
	o.mu.Unlock()
	assert.Equal(t, 0, aStreak, "switching templates should reset the previous one's streak")
}

func TestResetStreaksClearsAllTemplates(t *testing.T) {
	o := newTestOrchestrator()
	o.bumpStreak("a")
	o.bumpStreak("a")
	o.resetStreaks()
	o.mu.Lock()
	aStreak := o.streaks["a"]
	o.mu.Unlock()
	assert.Equal(t, 0, aStreak)
}

func TestResetClearsStreakHistory(t *testing.T) {
	o := newTestOrchestrator()
	o.bumpStreak("a")
	o.Reset()
	o.mu.Lock()
	_, tracked := o.streaks["a"]
	o.mu.Unlock()
	assert.False(t, tracked, "Reset should start a fresh streak map")
}

type assertError struct{}

func (assertError) Error() string { return "synthetic fault" }
