package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textEntry(id, role, text string) Entry {
	return Entry{
		ID:        id,
		Role:      role,
		Blocks:    []ContentBlock{{Type: "text", Text: text}},
		Timestamp: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestFlattenedText(t *testing.T) {
	e := Entry{Blocks: []ContentBlock{
		{Type: "text", Text: "first"},
		{Type: "tool_use", Text: ""},
		{Type: "text", Text: "second"},
	}}
	assert.Equal(t, "first\nsecond", e.FlattenedText())

	empty := Entry{Blocks: []ContentBlock{{Type: "tool_use"}}}
	assert.Equal(t, "", empty.FlattenedText())
}

func TestExtractLastAssistantMessage(t *testing.T) {
	entries := []Entry{
		textEntry("1", "user", "hi"),
		textEntry("2", "assistant", "hello"),
		textEntry("3", "user", "more"),
		textEntry("4", "assistant", "final answer"),
	}

	msg := ExtractLastAssistantMessage(entries)
	require.NotNil(t, msg)
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "final answer", msg.Text)
}

func TestExtractLastAssistantMessageSkipsEmptyContent(t *testing.T) {
	entries := []Entry{
		textEntry("1", "user", "hi"),
		textEntry("2", "assistant", "real answer"),
		{ID: "3", Role: "assistant", Blocks: []ContentBlock{{Type: "tool_use"}}},
	}

	msg := ExtractLastAssistantMessage(entries)
	require.NotNil(t, msg)
	assert.Equal(t, "real answer", msg.Text)
}

func TestExtractLastAssistantMessageNone(t *testing.T) {
	assert.Nil(t, ExtractLastAssistantMessage(nil))
	assert.Nil(t, ExtractLastAssistantMessage([]Entry{textEntry("1", "user", "hi")}))
}

func TestMessagesSinceLastUserPrompt(t *testing.T) {
	entries := []Entry{
		textEntry("1", "user", "old prompt"),
		textEntry("2", "assistant", "old answer"),
		textEntry("3", "user", "new prompt"),
		textEntry("4", "assistant", "step one"),
		textEntry("5", "assistant", "step two"),
	}

	msgs := MessagesSinceLastUserPrompt(entries)
	require.Len(t, msgs, 3)
	assert.Equal(t, "new prompt", msgs[0].Text)
	assert.Equal(t, "step one", msgs[1].Text)
	assert.Equal(t, "step two", msgs[2].Text)
}

func TestMessagesSinceLastUserPromptNothingAfter(t *testing.T) {
	entries := []Entry{
		textEntry("1", "user", "prompt"),
		textEntry("2", "assistant", "answer"),
		textEntry("3", "user", "waiting prompt"),
	}
	assert.Empty(t, MessagesSinceLastUserPrompt(entries))
}

func TestMessagesSinceLastUserPromptNoUserEntry(t *testing.T) {
	entries := []Entry{
		textEntry("1", "assistant", "unprompted"),
	}
	msgs := MessagesSinceLastUserPrompt(entries)
	require.Len(t, msgs, 1)
	assert.Equal(t, "unprompted", msgs[0].Text)
}

func TestSenderInfoRoundTrip(t *testing.T) {
	info := SenderInfo{SessionID: "3f2a9c1b-77aa-4bd2-9d31-0e5f1c2d3a4b", Name: "builder"}
	tagged := AppendSenderInfo("please review the diff", info)

	parsed, body := ParseSenderInfo(tagged)
	require.NotNil(t, parsed)
	assert.Equal(t, info.SessionID, parsed.SessionID)
	assert.Equal(t, "builder", parsed.Name)
	assert.Equal(t, "please review the diff", body)
}

func TestSenderInfoWithoutName(t *testing.T) {
	tagged := AppendSenderInfo("ping", SenderInfo{SessionID: "abc12345"})

	parsed, body := ParseSenderInfo(tagged)
	require.NotNil(t, parsed)
	assert.Equal(t, "abc12345", parsed.SessionID)
	assert.Empty(t, parsed.Name)
	assert.Equal(t, "ping", body)
}

func TestParseSenderInfoLegacyFormat(t *testing.T) {
	parsed, _ := ParseSenderInfo("forwarded from session 3f2a9c1b-77aa-4bd2-9d31-0e5f1c2d3a4b, please handle")
	require.NotNil(t, parsed)
	assert.Equal(t, "3f2a9c1b-77aa-4bd2-9d31-0e5f1c2d3a4b", parsed.SessionID)
	assert.Empty(t, parsed.Name)
}

func TestParseSenderInfoAbsent(t *testing.T) {
	parsed, body := ParseSenderInfo("just a plain message")
	assert.Nil(t, parsed)
	assert.Equal(t, "just a plain message", body)
}

func TestParseSenderInfoMalformedTagFallsBack(t *testing.T) {
	// Broken JSON inside the tag must not crash parsing, and must not
	// invent a sender.
	parsed, _ := ParseSenderInfo("msg <sender-info>{broken</sender-info>")
	assert.Nil(t, parsed)
}
