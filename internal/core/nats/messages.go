package nats

import (
	"encoding/json"
	"time"
)

// CallRequest asks the relay to perform one REST call.
type CallRequest struct {
	ID                string          `json:"id"`
	Method            string          `json:"method"`
	Path              string          `json:"path"`
	Auth              bool            `json:"auth,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	ContextProperties string          `json:"context_properties,omitempty"`
	CaptchaKey        string          `json:"captcha_key,omitempty"`
	CaptchaRqtoken    string          `json:"captcha_rqtoken,omitempty"`
	Files             []FilePayload   `json:"files,omitempty"`
}

// FilePayload is an attachment; Data is base64 in JSON.
type FilePayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// CallResult is published on ResultSubject(ID) once the call finished.
type CallResult struct {
	ID       string          `json:"id"`
	Status   int             `json:"status,omitempty"`
	OK       bool            `json:"ok"`
	Body     json.RawMessage `json:"body,omitempty"`
	Error    string          `json:"error,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
}

// RateLimitEvent reports one 429 seen by the dispatcher.
type RateLimitEvent struct {
	Bucket       string    `json:"bucket"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	RetryAfterMs int64     `json:"retry_after_ms"`
	Global       bool      `json:"global"`
	Attempt      int       `json:"attempt"`
	At           time.Time `json:"at"`
}
