package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/widget-core/internal/model"
)

func TestDecode_Chunk(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"chunk","chunk":"Hel","message_id":"m1"}`))
	require.NoError(t, err)

	delta, ok := frame.(Delta)
	require.True(t, ok)
	assert.Equal(t, "Hel", delta.Chunk)
	assert.Equal(t, "m1", delta.MessageID)
}

func TestDecode_ChunkMissingContent(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"chunk","message_id":"m1"}`))
	assert.Error(t, err)
	assert.Nil(t, frame)
}

func TestDecode_Complete(t *testing.T) {
	payload := `{"type":"complete","message_id":"m1","response_id":"r1",` +
		`"message":"full text","complete":true,"needs_info":"email",` +
		`"suggestions":["a","b"]}`

	frame, err := Decode([]byte(payload))
	require.NoError(t, err)

	term, ok := frame.(Terminal)
	require.True(t, ok)
	assert.Equal(t, "m1", term.MessageID)
	assert.Equal(t, "r1", term.ResponseID)
	assert.Equal(t, "full text", term.Content)
	assert.True(t, term.Complete)
	assert.Equal(t, model.NeedsInfoEmail, term.NeedsInfo)
	assert.Equal(t, []string{"a", "b"}, term.Suggestions)
}

func TestDecode_CompleteMinimal(t *testing.T) {
	// A bare complete frame is valid; every other field is optional.
	frame, err := Decode([]byte(`{"type":"complete"}`))
	require.NoError(t, err)

	term, ok := frame.(Terminal)
	require.True(t, ok)
	assert.Empty(t, term.Content)
	assert.False(t, term.Complete)
}

func TestDecode_OutOfBand(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantKind model.Kind
	}{
		{
			name:     "idle warning",
			payload:  `{"type":"idle_warning","message":"still there?","session_id":"s1"}`,
			wantKind: model.KindIdleWarning,
		},
		{
			name:     "session end",
			payload:  `{"type":"session_end","message":"closed","session_id":"s1"}`,
			wantKind: model.KindSessionEnd,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode([]byte(tt.payload))
			require.NoError(t, err)

			oob, ok := frame.(OutOfBand)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, oob.Kind)
			assert.Equal(t, "s1", oob.SessionID)
			assert.NotEmpty(t, oob.Message)
		})
	}
}

func TestDecode_OutOfBandMissingMessage(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"idle_warning","session_id":"s1"}`))
	assert.Error(t, err)
	assert.Nil(t, frame)
}

func TestDecode_Error(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"error","message":"rate limited"}`))
	require.NoError(t, err)

	serverErr, ok := frame.(ServerError)
	require.True(t, ok)
	assert.Contains(t, serverErr.Error(), "rate limited")
}

func TestDecode_UnknownTypeIgnored(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"typing_indicator","message":"..."}`))
	assert.NoError(t, err)
	assert.Nil(t, frame)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `not json at all`},
		{name: "truncated", payload: `{"type":"chunk","chunk":`},
		{name: "wrong field type", payload: `{"type":"chunk","chunk":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode([]byte(tt.payload))
			assert.Error(t, err)
			assert.Nil(t, frame)
		})
	}
}

func TestEncodeChatMessage(t *testing.T) {
	payload, err := EncodeChatMessage("hello", "s1", "v1")
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, map[string]string{
		"type":       "chat_message",
		"message":    "hello",
		"session_id": "s1",
		"visitor_id": "v1",
	}, decoded)
}
