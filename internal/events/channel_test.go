package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

func TestEmitOverwritesUndeliveredEventOfSameKind(t *testing.T) {
	ch := New()
	ch.Emit(Event{Kind: KindMatch, Match: &types.MatchResult{TemplateID: "first"}})
	ch.Emit(Event{Kind: KindMatch, Match: &types.MatchResult{TemplateID: "second"}})

	drained := ch.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, "second", drained[0].Match.TemplateID)
}

func TestDrainPreservesEmissionOrderAcrossKinds(t *testing.T) {
	ch := New()
	ch.Emit(Event{Kind: KindStatusChanged, Status: types.StateArming})
	ch.Emit(Event{Kind: KindMatch, Match: &types.MatchResult{}})
	ch.Emit(Event{Kind: KindClick, Click: &types.ClickResult{}})

	drained := ch.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, KindStatusChanged, drained[0].Kind)
	assert.Equal(t, KindMatch, drained[1].Kind)
	assert.Equal(t, KindClick, drained[2].Kind)
}

func TestDrainClearsPendingSet(t *testing.T) {
	ch := New()
	ch.Emit(Event{Kind: KindError, ErrKind: "x"})
	require.Len(t, ch.Drain(), 1)
	assert.Empty(t, ch.Drain())
}

func TestSubscribeReceivesEmittedEvent(t *testing.T) {
	ch := New()
	sub := ch.Subscribe()
	ch.Emit(Event{Kind: KindPerfTick, Perf: &types.PerfSample{FPS: 30}})

	select {
	case ev := <-sub:
		assert.Equal(t, KindPerfTick, ev.Kind)
		assert.Equal(t, 30.0, ev.Perf.FPS)
	default:
		t.Fatal("expected a buffered event on the subscriber channel")
	}
}

func TestEmitAssignsMonotonicSeq(t *testing.T) {
	ch := New()
	ch.Emit(Event{Kind: KindMatch})
	ch.Emit(Event{Kind: KindClick})
	drained := ch.Drain()
	require.Len(t, drained, 2)
	assert.Less(t, drained[0].Seq, drained[1].Seq)
}
