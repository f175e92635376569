package session

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// SenderInfo identifies the session that sent a message, appended inline
// so the receiving session can address a reply.
type SenderInfo struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name,omitempty"`
}

const (
	senderTagOpen  = "<sender-info>"
	senderTagClose = "</sender-info>"
)

// legacySenderPattern matches the historical free-text annotation
// ("... session 3f2a9c1b-..."). Parse-only: new messages always carry the
// JSON tag. Kept until we can confirm nothing still produces it.
var legacySenderPattern = regexp.MustCompile(`(?i)\bsession\s+([0-9a-f][0-9a-f-]{7,})`)

// AppendSenderInfo appends the JSON sender tag to message.
func AppendSenderInfo(message string, info SenderInfo) string {
	payload, err := json.Marshal(info)
	if err != nil {
		return message
	}
	return fmt.Sprintf("%s\n\n%s%s%s", message, senderTagOpen, payload, senderTagClose)
}

// ParseSenderInfo extracts the sender annotation from message, returning
// the info and the message body with the annotation stripped. Returns nil
// info when message carries no recognizable annotation.
func ParseSenderInfo(message string) (*SenderInfo, string) {
	open := strings.LastIndex(message, senderTagOpen)
	if open >= 0 {
		rest := message[open+len(senderTagOpen):]
		closeIdx := strings.Index(rest, senderTagClose)
		if closeIdx >= 0 {
			var info SenderInfo
			if err := json.Unmarshal([]byte(rest[:closeIdx]), &info); err == nil && info.SessionID != "" {
				stripped := message[:open] + rest[closeIdx+len(senderTagClose):]
				return &info, strings.TrimSpace(stripped)
			}
		}
	}

	if m := legacySenderPattern.FindStringSubmatch(message); m != nil {
		return &SenderInfo{SessionID: m[1]}, strings.TrimSpace(message)
	}

	return nil, message
}
