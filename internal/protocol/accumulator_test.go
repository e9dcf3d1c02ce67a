package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	chunks    []string
	completes []CompleteEvent
	events    []OutOfBand
	errs      []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnChunk:    func(buffered, _ string) { r.chunks = append(r.chunks, buffered) },
		OnComplete: func(ev CompleteEvent) { r.completes = append(r.completes, ev) },
		OnEvent:    func(ev OutOfBand) { r.events = append(r.events, ev) },
		OnError:    func(err error) { r.errs = append(r.errs, err) },
	}
}

func TestApply_DeltasAccumulate(t *testing.T) {
	rec := &recorder{}
	acc := Accumulator{}

	acc = Apply(Delta{Chunk: "Hel"}, acc, rec.callbacks())
	acc = Apply(Delta{Chunk: "lo ", MessageID: "m1"}, acc, rec.callbacks())
	acc = Apply(Delta{Chunk: "there"}, acc, rec.callbacks())

	assert.Equal(t, []string{"Hel", "Hello ", "Hello there"}, rec.chunks)
	assert.Equal(t, "Hello there", acc.Buffer)
	assert.Equal(t, "m1", acc.ActiveMessageID)
}

func TestApply_TerminalPrefersBufferedContent(t *testing.T) {
	rec := &recorder{}
	acc := Accumulator{Buffer: "streamed text", ActiveMessageID: "m1"}

	acc = Apply(Terminal{ResponseID: "r1", Content: "payload text"}, acc, rec.callbacks())

	require.Len(t, rec.completes, 1)
	assert.Equal(t, "streamed text", rec.completes[0].Content)
	assert.Equal(t, "m1", rec.completes[0].MessageID)
	assert.Equal(t, "r1", rec.completes[0].ResponseID)
	assert.Equal(t, Accumulator{}, acc)
}

func TestApply_TerminalFallsBackToPayload(t *testing.T) {
	rec := &recorder{}

	Apply(Terminal{MessageID: "m1", Content: "payload text"}, Accumulator{}, rec.callbacks())

	require.Len(t, rec.completes, 1)
	assert.Equal(t, "payload text", rec.completes[0].Content)
	assert.Equal(t, "m1", rec.completes[0].MessageID)
}

func TestApply_TerminalResetsForNextTurn(t *testing.T) {
	rec := &recorder{}
	acc := Accumulator{}

	acc = Apply(Delta{Chunk: "first"}, acc, rec.callbacks())
	acc = Apply(Terminal{ResponseID: "r1"}, acc, rec.callbacks())
	acc = Apply(Delta{Chunk: "second"}, acc, rec.callbacks())

	// No bleed-through from the settled turn.
	assert.Equal(t, "second", acc.Buffer)
	assert.Empty(t, acc.ActiveMessageID)
}

func TestApply_OutOfBandLeavesBufferAlone(t *testing.T) {
	rec := &recorder{}
	acc := Accumulator{Buffer: "mid-stream"}

	acc = Apply(OutOfBand{Message: "still there?"}, acc, rec.callbacks())

	require.Len(t, rec.events, 1)
	assert.Equal(t, "mid-stream", acc.Buffer)
}

func TestApply_ServerErrorResets(t *testing.T) {
	rec := &recorder{}
	acc := Accumulator{Buffer: "partial", ActiveMessageID: "m1"}

	acc = Apply(ServerError{Message: "backend down"}, acc, rec.callbacks())

	require.Len(t, rec.errs, 1)
	assert.Contains(t, rec.errs[0].Error(), "backend down")
	assert.Equal(t, Accumulator{}, acc)
	assert.Empty(t, rec.completes)
}

func TestApply_NilCallbacksAreSafe(t *testing.T) {
	acc := Accumulator{}
	acc = Apply(Delta{Chunk: "x"}, acc, Callbacks{})
	acc = Apply(Terminal{}, acc, Callbacks{})
	acc = Apply(OutOfBand{}, acc, Callbacks{})
	acc = Apply(ServerError{}, acc, Callbacks{})
	assert.Equal(t, Accumulator{}, acc)
}
