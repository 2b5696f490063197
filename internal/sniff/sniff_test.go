package sniff

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

var sampleEmail = strings.Join([]string{
	"From: sender@example.com",
	"To: recipient@example.com",
	"Subject: Detection Sample",
	"Content-Type: text/plain",
	"",
	"hello",
}, "\r\n")

func TestDetect(t *testing.T) {
	t.Parallel()

	jsonEnvelope, err := json.Marshal(map[string]string{"raw_email": sampleEmail})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  Format
	}{
		{"raw mime text", sampleEmail, FormatRaw},
		{"base64 blob", base64.StdEncoding.EncodeToString([]byte(sampleEmail)), FormatBase64},
		{"json envelope", string(jsonEnvelope), FormatJSON},
		{"plain prose defaults to raw", "just some words here", FormatRaw},
		{"base64 alphabet without message content", "deadbeef", FormatRaw},
		{"json without raw_email defaults to raw", `{"other": "field"}`, FormatRaw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Detect([]byte(tt.input)); got != tt.want {
				t.Errorf("Detect(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDetectBase64RequiresMessageContent(t *testing.T) {
	t.Parallel()

	// Both decode cleanly; only the one carrying header markers counts.
	plain := base64.StdEncoding.EncodeToString([]byte("hello world, nothing mail shaped"))
	if got := Detect([]byte(plain)); got != FormatRaw {
		t.Errorf("plain blob: got %q, want %q", got, FormatRaw)
	}

	mail := base64.StdEncoding.EncodeToString([]byte(sampleEmail))
	if got := Detect([]byte(mail)); got != FormatBase64 {
		t.Errorf("mail blob: got %q, want %q", got, FormatBase64)
	}
}

func TestResolveForceModes(t *testing.T) {
	t.Parallel()

	t.Run("force raw skips detection", func(t *testing.T) {
		t.Parallel()
		encoded := []byte(base64.StdEncoding.EncodeToString([]byte(sampleEmail)))
		raw, format, err := Resolve(encoded, ForceRaw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if format != FormatRaw {
			t.Errorf("format: got %q, want %q", format, FormatRaw)
		}
		if !bytes.Equal(raw, encoded) {
			t.Errorf("raw: got %q, want the input unchanged", raw)
		}
	})

	t.Run("force base64 decodes", func(t *testing.T) {
		t.Parallel()
		encoded := []byte(base64.StdEncoding.EncodeToString([]byte(sampleEmail)))
		raw, format, err := Resolve(encoded, ForceBase64)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if format != FormatBase64 {
			t.Errorf("format: got %q, want %q", format, FormatBase64)
		}
		if string(raw) != sampleEmail {
			t.Errorf("raw: got %q, want the decoded email", raw)
		}
	})

	t.Run("force base64 on invalid input", func(t *testing.T) {
		t.Parallel()
		_, _, err := Resolve([]byte("!!! not base64 !!!"), ForceBase64)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("error type: got %T, want *DecodeError", err)
		}
		if errors.Unwrap(decodeErr) == nil {
			t.Error("DecodeError should wrap the underlying cause")
		}
	})
}

func TestResolveDetected(t *testing.T) {
	t.Parallel()

	t.Run("raw passes through", func(t *testing.T) {
		t.Parallel()
		raw, format, err := Resolve([]byte(sampleEmail), ForceNone)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if format != FormatRaw {
			t.Errorf("format: got %q, want %q", format, FormatRaw)
		}
		if string(raw) != sampleEmail {
			t.Errorf("raw: got %q, want the input unchanged", raw)
		}
	})

	t.Run("base64 wrapped in line breaks decodes", func(t *testing.T) {
		t.Parallel()
		encoded := base64.StdEncoding.EncodeToString([]byte(sampleEmail))
		var wrapped strings.Builder
		for i := 0; i < len(encoded); i += 60 {
			end := i + 60
			if end > len(encoded) {
				end = len(encoded)
			}
			wrapped.WriteString(encoded[i:end])
			wrapped.WriteString("\r\n")
		}

		raw, format, err := Resolve([]byte(wrapped.String()), ForceNone)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if format != FormatBase64 {
			t.Errorf("format: got %q, want %q", format, FormatBase64)
		}
		if string(raw) != sampleEmail {
			t.Errorf("raw: got %q, want the decoded email", raw)
		}
	})

	t.Run("json envelope with raw payload", func(t *testing.T) {
		t.Parallel()
		input, err := json.Marshal(map[string]string{"raw_email": sampleEmail})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		raw, format, err := Resolve(input, ForceNone)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if format != FormatJSON {
			t.Errorf("format: got %q, want %q", format, FormatJSON)
		}
		if string(raw) != sampleEmail {
			t.Errorf("raw: got %q, want the embedded email", raw)
		}
	})

	t.Run("json envelope with nested payload", func(t *testing.T) {
		t.Parallel()
		input, err := json.Marshal(map[string]map[string]string{
			"payload": {"raw_email": sampleEmail},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		raw, format, err := Resolve(input, ForceNone)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if format != FormatJSON {
			t.Errorf("format: got %q, want %q", format, FormatJSON)
		}
		if string(raw) != sampleEmail {
			t.Errorf("raw: got %q, want the embedded email", raw)
		}
	})

	t.Run("json envelope with base64 payload matches raw", func(t *testing.T) {
		t.Parallel()
		input, err := json.Marshal(map[string]string{
			"raw_email": base64.StdEncoding.EncodeToString([]byte(sampleEmail)),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		fromJSON, format, err := Resolve(input, ForceNone)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if format != FormatJSON {
			t.Errorf("format: got %q, want %q", format, FormatJSON)
		}

		fromRaw, _, err := Resolve([]byte(sampleEmail), ForceNone)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(fromJSON, fromRaw) {
			t.Errorf("json and raw inputs resolve differently: %q vs %q", fromJSON, fromRaw)
		}
	})
}
