// Package decode provides the transfer-encoding and character-set codecs
// shared by the sniffer, the parser and the materializer.
package decode

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func init() {
	// Aliases seen in real traffic that the default tables miss.
	charset.RegisterEncoding("latin1", charmap.ISO8859_1)
	charset.RegisterEncoding("latin-1", charmap.ISO8859_1)
	charset.RegisterEncoding("cp1252", charmap.Windows1252)
	charset.RegisterEncoding("win-1252", charmap.Windows1252)
	charset.RegisterEncoding("ansi_x3.4-1968", charmap.Windows1252)
	charset.RegisterEncoding("utf8", unicode.UTF8)
}

var wordDecoder = mime.WordDecoder{CharsetReader: charset.Reader}

// Header decodes RFC 2047 encoded words in a header value, returning the
// input unchanged when decoding fails.
func Header(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// Base64String strips all whitespace from s and decodes it, trying the
// standard alphabet first and the unpadded variant second.
func Base64String(s string) ([]byte, error) {
	cleaned := strings.Map(dropSpace, s)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 content: %w", err)
		}
	}
	return decoded, nil
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return -1
	}
	return r
}

// Transfer decodes a part payload according to its Content-Transfer-Encoding.
// Encodings the decoder does not understand pass through unchanged; use
// KnownTransfer to tell the two cases apart.
func Transfer(payload []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return Base64String(string(payload))
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("invalid quoted-printable content: %w", err)
		}
		return decoded, nil
	default:
		// 7bit, 8bit, binary and absent encodings carry the payload as is.
		return payload, nil
	}
}

// KnownTransfer reports whether the encoding token is one Transfer handles
// natively.
func KnownTransfer(encoding string) bool {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "7bit", "8bit", "binary", "base64", "quoted-printable":
		return true
	}
	return false
}

// Text converts payload bytes to a UTF-8 string using the declared charset,
// falling back to UTF-8 validation and then Latin-1. It never fails: Latin-1
// accepts any byte sequence.
func Text(payload []byte, declared string) string {
	name := strings.ToLower(strings.Trim(strings.TrimSpace(declared), `"'`))
	switch name {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return ensureUTF8(payload)
	}
	r, err := charset.Reader(name, bytes.NewReader(payload))
	if err != nil {
		return ensureUTF8(payload)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return ensureUTF8(payload)
	}
	return string(decoded)
}

func ensureUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}
