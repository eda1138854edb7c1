package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/idmerge/internal/ids"
)

// Message types written by the store itself rather than by a sender.
const (
	MessageTypeText         = "text"
	MessageTypeThreadMerge  = "thread_merge"
	MessageTypeChangeNumber = "change_number"
)

// ThreadMergeEvent is the body of a thread_merge message: the phone number
// the retired identity was known by, so the UI can say who merged in.
type ThreadMergeEvent struct {
	PreviousE164 ids.E164 `json:"previous_e164,omitempty"`
}

// ChangeNumberEvent is the body of a change_number message.
type ChangeNumberEvent struct {
	OldE164 ids.E164 `json:"old_e164"`
	NewE164 ids.E164 `json:"new_e164"`
}

// marshalEvent renders an event body as compact JSON TEXT.
// HTML escaping is disabled so phone numbers with '+' are stored verbatim.
func marshalEvent(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// UnmarshalThreadMergeEvent parses the body of a thread_merge message.
func UnmarshalThreadMergeEvent(body string) (ThreadMergeEvent, error) {
	var ev ThreadMergeEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return ThreadMergeEvent{}, fmt.Errorf("unmarshal thread merge event: %w", err)
	}
	return ev, nil
}

// UnmarshalChangeNumberEvent parses the body of a change_number message.
func UnmarshalChangeNumberEvent(body string) (ChangeNumberEvent, error) {
	var ev ChangeNumberEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return ChangeNumberEvent{}, fmt.Errorf("unmarshal change number event: %w", err)
	}
	return ev, nil
}
