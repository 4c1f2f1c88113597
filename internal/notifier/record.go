// Package notifier implements the notification delivery worker: it turns
// inbound push payloads into canonical notification records, displays them
// through a platform adapter, and routes user interaction back into the
// application. The worker runs on its own event loop, independent of any
// HTTP request lifecycle.
package notifier

import (
	"bytes"
	"encoding/json"
)

// Defaults applied to every push payload before merging.
const (
	DefaultTitle = "ViralBoost"
	DefaultBody  = "You have a new notification"
	FallbackTag  = "viralboost-general"
)

// Data is the routing metadata carried by a notification. URL, when set,
// takes precedence over Type during route resolution.
type Data struct {
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
}

// Action is one interactive button attached to a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Record is the canonical notification, post-normalization. Tag drives
// OS-level replacement: displaying a record whose tag matches a live
// notification replaces it rather than stacking a second one.
type Record struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon,omitempty"`
	Badge              string   `json:"badge,omitempty"`
	Tag                string   `json:"tag"`
	Data               Data     `json:"data"`
	RequireInteraction bool     `json:"require_interaction,omitempty"`
	Actions            []Action `json:"actions,omitempty"`
}

// Normalize converts a raw push payload into a canonical Record. It never
// fails: an absent payload produces a pure-default record, valid JSON merges
// over the defaults (the payload's tag, if present, wins), and a malformed
// body degrades to plain text used as the record body.
func Normalize(payload []byte) Record {
	rec := Record{
		Title: DefaultTitle,
		Body:  DefaultBody,
		Tag:   FallbackTag,
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return rec
	}

	// Only JSON objects can carry record fields. A bare string or number is
	// valid JSON but still treated as plain text.
	if trimmed[0] != '{' || json.Unmarshal(trimmed, &rec) != nil {
		rec = Record{
			Title: DefaultTitle,
			Body:  string(payload),
			Tag:   FallbackTag,
		}
	}
	if rec.Title == "" {
		rec.Title = DefaultTitle
	}
	if rec.Body == "" {
		rec.Body = DefaultBody
	}
	if rec.Tag == "" {
		rec.Tag = FallbackTag
	}
	return rec
}
