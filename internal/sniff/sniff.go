// Package sniff implements container format detection for email input and
// the transport decode that turns detected input into raw MIME text.
package sniff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkoren/mailunpack/internal/decode"
)

// Format is the detected container format of an input.
type Format string

const (
	FormatRaw    Format = "raw"
	FormatBase64 Format = "base64"
	FormatJSON   Format = "json-wrapped"
)

// Force overrides detection for callers that already know the format.
type Force int

const (
	ForceNone Force = iota
	ForceRaw
	ForceBase64
)

// DecodeError signals that a base64 transport layer could not be decoded
// into any message text.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("transport decode failed: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// rule is one detection predicate. Rules run in order; the first match wins
// and anything unmatched resolves to raw, the safer default.
type rule struct {
	name   string
	match  func(s string) bool
	format Format
}

var rules = []rule{
	{"json-envelope", isJSONEnvelope, FormatJSON},
	{"mime-markers", hasHeaderLines, FormatRaw},
	{"base64-blob", isBase64Message, FormatBase64},
}

// Detect resolves the container format of the input.
func Detect(input []byte) Format {
	s := strings.TrimSpace(string(input))
	for _, r := range rules {
		if r.match(s) {
			return r.format
		}
	}
	return FormatRaw
}

// Resolve detects the container format (honoring force) and returns the raw
// MIME text ready for parsing, together with the format that was applied.
// The only possible error is a DecodeError on a base64 layer that does not
// decode.
func Resolve(input []byte, force Force) ([]byte, Format, error) {
	switch force {
	case ForceRaw:
		return input, FormatRaw, nil
	case ForceBase64:
		raw, err := decodeTransport(string(input))
		return raw, FormatBase64, err
	}

	s := strings.TrimSpace(string(input))
	switch Detect(input) {
	case FormatJSON:
		payload, _ := unwrapJSON(s)
		raw, _, err := Resolve([]byte(payload), ForceNone)
		return raw, FormatJSON, err
	case FormatBase64:
		raw, err := decodeTransport(s)
		return raw, FormatBase64, err
	default:
		return input, FormatRaw, nil
	}
}

// decodeTransport strips the base64 layer and re-interprets the result as
// text through the UTF-8 then Latin-1 chain.
func decodeTransport(s string) ([]byte, error) {
	decoded, err := decode.Base64String(s)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return []byte(decode.Text(decoded, "")), nil
}

// envelope mirrors the accepted JSON input shapes: a raw_email field at the
// top level or nested under payload.
type envelope struct {
	RawEmail string `json:"raw_email"`
	Payload  struct {
		RawEmail string `json:"raw_email"`
	} `json:"payload"`
}

func unwrapJSON(s string) (string, bool) {
	if !strings.HasPrefix(s, "{") {
		return "", false
	}
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return "", false
	}
	if env.RawEmail != "" {
		return env.RawEmail, true
	}
	if env.Payload.RawEmail != "" {
		return env.Payload.RawEmail, true
	}
	return "", false
}

func isJSONEnvelope(s string) bool {
	_, ok := unwrapJSON(s)
	return ok
}

var headerMarkers = []string{
	"From:", "To:", "Subject:", "Date:", "Received:",
	"Content-Type:", "MIME-Version:",
}

// hasHeaderLines reports whether the text carries a header-like line within
// its first ten non-blank lines, or a MIME structure header anywhere.
func hasHeaderLines(s string) bool {
	if strings.Contains(s, "Content-Type:") || strings.Contains(s, "MIME-Version:") {
		return true
	}
	seen := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if headerLine(line) {
			return true
		}
		seen++
		if seen >= 10 {
			break
		}
	}
	return false
}

// headerLine matches "Key: value" with an RFC 5322 field-name token before
// the colon.
func headerLine(line string) bool {
	i := strings.Index(line, ":")
	if i <= 0 {
		return false
	}
	for _, r := range line[:i] {
		if r <= ' ' || r > '~' {
			return false
		}
	}
	return true
}

// isBase64Message reports whether the text is a base64 blob whose decode
// looks like a message. Alphabet coincidence alone is not enough: the
// decoded bytes must carry a recognizable header marker.
func isBase64Message(s string) bool {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, s)
	if cleaned == "" || len(cleaned)%4 != 0 {
		return false
	}
	for _, r := range cleaned {
		if !base64Alphabet(r) {
			return false
		}
	}
	decoded, err := decode.Base64String(cleaned)
	if err != nil {
		return false
	}
	for _, marker := range headerMarkers {
		if bytes.Contains(decoded, []byte(marker)) {
			return true
		}
	}
	return false
}

func base64Alphabet(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '+', r == '/', r == '=':
		return true
	}
	return false
}
