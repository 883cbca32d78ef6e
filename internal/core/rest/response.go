package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Envelope is the classified form of a response.
type Envelope struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Raw        []byte
	// Body is the decoded JSON value when Parsed is true. Numbers are
	// json.Number so snowflakes survive.
	Body   any
	Parsed bool
	Text   string
	OK     bool
	// Attempts is the number of sends it took to get this response. It is
	// set by the scheduler when the request completes.
	Attempts int
}

// Classify decodes a fully read response. It never fails: a body that is not
// a single JSON value leaves Parsed false and keeps the raw payload.
func Classify(raw *RawResponse) *Envelope {
	env := &Envelope{
		StatusCode: raw.StatusCode,
		StatusText: raw.StatusText,
		Header:     raw.Header,
		Raw:        raw.Body,
		Text:       string(raw.Body),
		OK:         raw.StatusCode >= 200 && raw.StatusCode <= 299,
	}
	if env.Header == nil {
		env.Header = make(http.Header)
	}

	if v, ok := decodeJSON(raw.Body); ok {
		env.Body = v
		env.Parsed = true
	}
	return env
}

func decodeJSON(b []byte) (any, bool) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return v, true
}

// Decode unmarshals the raw payload into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// Field returns a top-level field of a parsed JSON object.
func (e *Envelope) Field(name string) (any, bool) {
	obj, ok := e.Body.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[name]
	return v, ok
}
