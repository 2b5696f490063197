// Package email defines the part-tree and extraction result model used
// throughout the extractor.
package email

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Part is one node of the parsed MIME tree. Container parts carry their
// children and no meaningful payload of their own; leaf parts carry the raw,
// still transfer-encoded payload bytes.
type Part struct {
	ContentType      string
	Params           map[string]string
	Disposition      string
	ContentID        string
	Charset          string
	TransferEncoding string
	Filename         string
	Payload          []byte
	Children         []*Part
	Headers          map[string][]string
	RawHeader        []byte
}

// IsLeaf reports whether the part has no children.
func (p *Part) IsLeaf() bool { return len(p.Children) == 0 }

// Kind classifies a leaf part or a materialized artifact.
type Kind string

const (
	KindTextBody    Kind = "text-body"
	KindHtmlBody    Kind = "html-body"
	KindHeaderDump  Kind = "header-dump"
	KindInlineImage Kind = "inline-image"
	KindAttachment  Kind = "attachment"
	KindMetadata    Kind = "metadata"
)

// Leaf is one result of walking the tree: the part, its dotted position path,
// its 1-based ordinal in traversal order and the classification it received.
type Leaf struct {
	Path    string
	Ordinal int
	Kind    Kind
	Part    *Part
}

// Artifact records one file produced by an extraction.
type Artifact struct {
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`
	Size    int    `json:"size"`
	Ordinal int    `json:"part_number,omitempty"`
}

// Envelope carries the common headers of the root message.
type Envelope struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Date      string `json:"date,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// PartInfo is the payload-free record of one classified leaf, suitable for
// summaries and reports.
type PartInfo struct {
	Ordinal     int    `json:"part_number"`
	Path        string `json:"path"`
	Kind        Kind   `json:"kind"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
	Size        int    `json:"size"`
}

// Summary is the aggregate result of one extraction or summary-only run.
// It is built during the walk and immutable afterwards.
type Summary struct {
	TextBody  string     `json:"text_body,omitempty"`
	HtmlBody  string     `json:"html_body,omitempty"`
	Envelope  Envelope   `json:"headers"`
	Parts     []PartInfo `json:"parts"`
	Artifacts []Artifact `json:"files,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// HasText reports whether a plain-text body was found.
func (s *Summary) HasText() bool { return s.TextBody != "" }

// HasHtml reports whether an HTML body was found.
func (s *Summary) HasHtml() bool { return s.HtmlBody != "" }

// ImageCount returns the number of inline images found.
func (s *Summary) ImageCount() int { return s.countKind(KindInlineImage) }

// AttachmentCount returns the number of attachments found.
func (s *Summary) AttachmentCount() int { return s.countKind(KindAttachment) }

func (s *Summary) countKind(k Kind) int {
	n := 0
	for _, p := range s.Parts {
		if p.Kind == k {
			n++
		}
	}
	return n
}

const previewLen = 200

// TextPreview returns the first 200 characters of the plain-text body.
func (s *Summary) TextPreview() string {
	return truncate(s.TextBody, previewLen)
}

// HtmlPreview returns the first 200 characters of the HTML body with markup
// stripped and whitespace collapsed.
func (s *Summary) HtmlPreview() string {
	if s.HtmlBody == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.HtmlBody))
	if err != nil {
		return truncate(s.HtmlBody, previewLen)
	}
	text := strings.Join(strings.Fields(doc.Text()), " ")
	return truncate(text, previewLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
