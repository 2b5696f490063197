// Package parser provides RFC 5322 message parsing into a MIME part tree
// and the classifying walk over that tree.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/dkoren/mailunpack/internal/decode"
	"github.com/dkoren/mailunpack/internal/email"
)

// maxDepth bounds container recursion; parts nested deeper stay opaque.
const maxDepth = 16

// Parse parses raw MIME text into a part tree. It never fails: input that
// does not parse as a message degrades to a single text/plain part holding
// the whole input, and malformed multipart regions degrade to attachment
// leaves. Every degradation appends to the returned warnings.
func Parse(raw []byte) (*email.Part, []string) {
	var warnings []string
	root := parseMessage(raw, 0, &warnings)
	return root, warnings
}

// Walk flattens the tree depth-first in document order and classifies every
// leaf. The first text/plain and text/html candidates win their role; later
// candidates degrade to attachments so nothing is silently overwritten.
func Walk(root *email.Part) []email.Leaf {
	var leaves []email.Leaf
	var haveText, haveHtml bool
	ordinal := 0

	var visit func(p *email.Part, path string)
	visit = func(p *email.Part, path string) {
		if len(p.Children) > 0 {
			for i, child := range p.Children {
				visit(child, fmt.Sprintf("%s.%d", path, i+1))
			}
			return
		}
		ordinal++
		kind := classify(p)
		switch kind {
		case email.KindTextBody:
			if haveText {
				kind = email.KindAttachment
			} else {
				haveText = true
			}
		case email.KindHtmlBody:
			if haveHtml {
				kind = email.KindAttachment
			} else {
				haveHtml = true
			}
		}
		leaves = append(leaves, email.Leaf{Path: path, Ordinal: ordinal, Kind: kind, Part: p})
	}
	visit(root, "1")
	return leaves
}

// Envelope pulls the common headers off the root part, decoding RFC 2047
// encoded words.
func Envelope(root *email.Part) email.Envelope {
	get := func(key string) string {
		return decode.Header(headerValue(root.Headers, key))
	}
	return email.Envelope{
		From:      get("From"),
		To:        get("To"),
		Subject:   get("Subject"),
		Date:      get("Date"),
		MessageID: headerValue(root.Headers, "Message-Id"),
	}
}

// classify applies the leaf classification policy in priority order.
func classify(p *email.Part) email.Kind {
	switch {
	case strings.HasPrefix(p.ContentType, "text/plain") && p.Disposition != "attachment":
		return email.KindTextBody
	case strings.HasPrefix(p.ContentType, "text/html") && p.Disposition != "attachment":
		return email.KindHtmlBody
	case strings.HasPrefix(p.ContentType, "image/") && (p.Disposition == "inline" || p.ContentID != ""):
		return email.KindInlineImage
	default:
		return email.KindAttachment
	}
}

func parseMessage(raw []byte, depth int, warnings *[]string) *email.Part {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		slog.Debug("input does not parse as a message, treating it as a plain text body",
			"error", err,
		)
		return &email.Part{ContentType: "text/plain", Payload: raw}
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("message body unreadable: %v", err))
	}
	return buildPart(msg.Header, headerBlock(raw), body, depth, warnings)
}

// buildPart assembles one tree node from parsed headers and raw body bytes,
// recursing into multipart and embedded-message containers.
func buildPart(headers map[string][]string, rawHeader, body []byte, depth int, warnings *[]string) *email.Part {
	contentType := headerValue(headers, "Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	part := &email.Part{
		Headers:   headers,
		RawHeader: rawHeader,
		Payload:   body,
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("content type %q does not parse, treating part as application/octet-stream", contentType))
		part.ContentType = "application/octet-stream"
		return part
	}
	part.ContentType = mediaType
	part.Params = params
	part.Charset = params["charset"]
	part.TransferEncoding = strings.ToLower(strings.TrimSpace(headerValue(headers, "Content-Transfer-Encoding")))
	part.ContentID = strings.TrimSpace(headerValue(headers, "Content-Id"))
	part.Disposition, part.Filename = parseDisposition(headers, params)

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		splitContainer(part, body, depth, warnings)
	case mediaType == "message/rfc822" || mediaType == "message/global":
		unwrapMessage(part, body, depth, warnings)
	}
	return part
}

// splitContainer divides a multipart body along its boundary and parses the
// segments as children. Degraded regions stay on the part as leaves.
func splitContainer(part *email.Part, body []byte, depth int, warnings *[]string) {
	if depth+1 >= maxDepth {
		*warnings = append(*warnings, fmt.Sprintf("part nesting exceeds depth %d, keeping part opaque", maxDepth))
		return
	}
	boundary := part.Params["boundary"]
	if boundary == "" {
		*warnings = append(*warnings, "multipart part is missing its boundary parameter")
		return
	}

	segments, trailing, found, closed := splitMultipart(body, boundary)
	if !found {
		*warnings = append(*warnings, fmt.Sprintf("boundary %q not found in multipart body", boundary))
		return
	}
	for _, seg := range segments {
		part.Children = append(part.Children, parseSegment(seg, depth+1, warnings))
	}
	if !closed {
		if len(bytes.TrimSpace(trailing)) > 0 {
			*warnings = append(*warnings, "multipart body missing closing boundary, keeping undivided trailing bytes as an attachment")
			part.Children = append(part.Children, &email.Part{
				ContentType: "application/octet-stream",
				Payload:     trailing,
			})
		} else {
			*warnings = append(*warnings, "multipart body missing closing boundary")
		}
	}
	if len(part.Children) > 0 {
		part.Payload = nil
	}
}

// unwrapMessage recurses into an embedded message as if it were a top-level
// message. Payloads that do not parse stay opaque.
func unwrapMessage(part *email.Part, body []byte, depth int, warnings *[]string) {
	if depth+1 >= maxDepth {
		*warnings = append(*warnings, fmt.Sprintf("part nesting exceeds depth %d, keeping part opaque", maxDepth))
		return
	}
	inner, err := decode.Transfer(body, part.TransferEncoding)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("embedded message payload does not decode: %v", err))
		return
	}
	if _, err := mail.ReadMessage(bytes.NewReader(inner)); err != nil {
		*warnings = append(*warnings, "embedded message does not parse, keeping it as an attachment")
		return
	}
	part.Children = []*email.Part{parseMessage(inner, depth+1, warnings)}
	part.Payload = nil
}

// parseSegment parses one delimited multipart segment into a part.
func parseSegment(seg []byte, depth int, warnings *[]string) *email.Part {
	if len(bytes.TrimSpace(seg)) == 0 {
		return &email.Part{ContentType: "application/octet-stream"}
	}

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(seg)))
	headers, err := tp.ReadMIMEHeader()
	if err != nil {
		*warnings = append(*warnings, "part headers do not parse, keeping segment as an opaque attachment")
		return &email.Part{ContentType: "application/octet-stream", Payload: seg}
	}
	body, err := io.ReadAll(tp.R)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("part body unreadable: %v", err))
	}
	return buildPart(headers, nil, body, depth, warnings)
}

// parseDisposition resolves the Content-Disposition type and the filename,
// preferring the disposition's filename parameter over the content type's
// name parameter. Filenames are RFC 2047 decoded.
func parseDisposition(headers map[string][]string, typeParams map[string]string) (string, string) {
	disposition := ""
	filename := ""
	if raw := headerValue(headers, "Content-Disposition"); raw != "" {
		disp, dparams, err := mime.ParseMediaType(raw)
		if err != nil {
			disp = strings.ToLower(strings.TrimSpace(strings.SplitN(raw, ";", 2)[0]))
		} else {
			filename = dparams["filename"]
		}
		disposition = disp
	}
	if filename == "" {
		filename = typeParams["name"]
	}
	if filename != "" {
		filename = decode.Header(filename)
	}
	return disposition, filename
}

// splitMultipart divides a multipart body into its raw delimited segments.
// It reports any undivided bytes left when the closing delimiter is missing,
// whether any delimiter was seen at all, and whether the region was closed.
// The strict stdlib reader is not used here because it cannot hand back the
// remainder after a malformed boundary.
func splitMultipart(body []byte, boundary string) (segments [][]byte, trailing []byte, found, closed bool) {
	delim := "--" + boundary
	closeDelim := delim + "--"
	var cur []byte
	inPart := false

	pos := 0
	for pos < len(body) {
		var line []byte
		next := 0
		if i := bytes.IndexByte(body[pos:], '\n'); i < 0 {
			line = body[pos:]
			next = len(body)
		} else {
			line = body[pos : pos+i+1]
			next = pos + i + 1
		}

		switch marker(line) {
		case delim:
			if inPart {
				segments = append(segments, chompLine(cur))
			}
			cur = nil
			inPart = true
			found = true
		case closeDelim:
			if inPart {
				segments = append(segments, chompLine(cur))
			}
			// epilogue is discarded
			return segments, nil, true, true
		default:
			if inPart {
				cur = append(cur, line...)
			}
		}
		pos = next
	}

	if inPart {
		trailing = cur
	}
	return segments, trailing, found, false
}

// marker normalizes a line for boundary comparison, dropping the line
// terminator and transport padding.
func marker(line []byte) string {
	s := strings.TrimRight(string(line), "\r\n")
	return strings.TrimRight(s, " \t")
}

// chompLine removes the single line terminator that belongs to the
// following boundary delimiter.
func chompLine(b []byte) []byte {
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	if bytes.HasSuffix(b, []byte("\n")) {
		return b[:len(b)-1]
	}
	return b
}

// headerBlock returns the verbatim header bytes of a message, without the
// blank separator line.
func headerBlock(raw []byte) []byte {
	iCRLF := bytes.Index(raw, []byte("\r\n\r\n"))
	iLF := bytes.Index(raw, []byte("\n\n"))
	switch {
	case iCRLF >= 0 && (iLF < 0 || iCRLF < iLF):
		return raw[:iCRLF+2]
	case iLF >= 0:
		return raw[:iLF+1]
	}
	return nil
}

func headerValue(headers map[string][]string, key string) string {
	if headers == nil {
		return ""
	}
	values := headers[textproto.CanonicalMIMEHeaderKey(key)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
