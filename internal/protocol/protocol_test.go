package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLineCommands(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{
			name: "send with mode and id",
			line: `{"type":"send","message":"hello","mode":"follow_up","id":"x1"}`,
			want: Command{Type: CommandSend, Message: "hello", Mode: ModeFollowUp, ID: "x1"},
		},
		{
			name: "abort",
			line: `{"type":"abort","id":"x"}`,
			want: Command{Type: CommandAbort, ID: "x"},
		},
		{
			name: "subscribe",
			line: `{"type":"subscribe","event":"turn_end"}`,
			want: Command{Type: CommandSubscribe, Event: EventTurnEnd},
		},
		{
			name: "clear with summarize",
			line: `{"type":"clear","summarize":true}`,
			want: Command{Type: CommandClear, Summarize: true},
		},
		{
			name: "unknown type decodes, dispatcher rejects later",
			line: `{"type":"bogus"}`,
			want: Command{Type: "bogus"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeLine([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *cmd)
		})
	}
}

func TestDecodeLineFailures(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		reason string
	}{
		{"invalid json", `{nope`, "not an object"},
		{"json array", `[1,2,3]`, "not an object"},
		{"json string", `"hello"`, "not an object"},
		{"json null", `null`, "not an object"},
		{"missing type", `{"message":"hi"}`, "missing type"},
		{"non-string type", `{"type":42}`, "missing type"},
		{"empty type", `{"type":""}`, "missing type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLine([]byte(tt.line))
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.reason, perr.Reason)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cmd := &Command{Type: CommandGetMessage, ID: "req-7"}
	msg := &ExtractedMessage{
		Role:      "assistant",
		Text:      "done",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	encoded, err := EncodeFrame(NewResponse(cmd, MessageData{Message: msg}))
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), encoded[len(encoded)-1])

	var decoded Response
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, FrameResponse, decoded.Type)
	assert.Equal(t, CommandGetMessage, decoded.Command)
	assert.True(t, decoded.Success)
	assert.Equal(t, "req-7", decoded.ID)

	var data MessageData
	require.NoError(t, json.Unmarshal(decoded.Data, &data))
	require.NotNil(t, data.Message)
	assert.Equal(t, "assistant", data.Message.Role)
	assert.Equal(t, "done", data.Message.Text)
	assert.True(t, msg.Timestamp.Equal(data.Message.Timestamp))
}

func TestEventRoundTrip(t *testing.T) {
	ev := NewEvent(EventTurnEnd, "sub-1", TurnEndData{
		Message:   &ExtractedMessage{Role: "assistant", Text: "ok"},
		TurnIndex: 3,
	})

	encoded, err := EncodeFrame(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, FrameEvent, decoded.Type)
	assert.Equal(t, EventTurnEnd, decoded.Event)
	assert.Equal(t, "sub-1", decoded.SubscriptionID)

	var data TurnEndData
	require.NoError(t, json.Unmarshal(decoded.Data, &data))
	assert.Equal(t, 3, data.TurnIndex)
	assert.Equal(t, "ok", data.Message.Text)
}

func TestNullMessageDataStaysNull(t *testing.T) {
	// get_message with no assistant turn must serialize message as
	// explicit null, not omit it.
	encoded, err := EncodeFrame(NewResponse(&Command{Type: CommandGetMessage}, MessageData{}))
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"message":null`)
}

func TestParseResponse(t *testing.T) {
	_, err := DecodeLine([]byte("not json"))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)

	resp := NewParseResponse(perr)
	assert.Equal(t, CommandParse, resp.Command)
	assert.False(t, resp.Success)
	assert.Equal(t, "not an object", resp.Error)
}

func TestLineBufferFraming(t *testing.T) {
	var lb LineBuffer

	lines := lb.Feed([]byte(`{"type":"abort"}` + "\n" + `{"type":"get_mes`))
	require.Len(t, lines, 1)
	assert.JSONEq(t, `{"type":"abort"}`, string(lines[0]))
	assert.Greater(t, lb.Pending(), 0)

	lines = lb.Feed([]byte("sage\"}\n"))
	require.Len(t, lines, 1)
	assert.JSONEq(t, `{"type":"get_message"}`, string(lines[0]))
	assert.Equal(t, 0, lb.Pending())
}

func TestLineBufferIgnoresEmptyLines(t *testing.T) {
	var lb LineBuffer

	lines := lb.Feed([]byte("\n\r\n  \n" + `{"type":"abort"}` + "\n\n"))
	require.Len(t, lines, 1)
}

func TestLineBufferMultipleLinesOneChunk(t *testing.T) {
	var lb LineBuffer

	lines := lb.Feed([]byte(`{"type":"abort"}` + "\n" + `{"type":"clear"}` + "\n"))
	require.Len(t, lines, 2)

	first, err := DecodeLine(lines[0])
	require.NoError(t, err)
	second, err := DecodeLine(lines[1])
	require.NoError(t, err)
	assert.Equal(t, CommandAbort, first.Type)
	assert.Equal(t, CommandClear, second.Type)
}
