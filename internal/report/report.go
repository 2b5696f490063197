// Package report renders extraction results in a human-readable format.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dkoren/mailunpack/internal/email"
	"github.com/dkoren/mailunpack/internal/mbox"
)

// Renderer prints extraction results to its writer.
type Renderer struct {
	writer io.Writer
}

// New creates a Renderer that writes to os.Stdout.
func New() *Renderer {
	return &Renderer{writer: os.Stdout}
}

// NewWithWriter creates a Renderer that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Renderer {
	return &Renderer{writer: w}
}

// Summary prints what one extraction found and produced.
func (r *Renderer) Summary(s *email.Summary) {
	var b strings.Builder

	b.WriteString("========================================\n")
	if s.Envelope.From != "" {
		fmt.Fprintf(&b, "From: %s\n", s.Envelope.From)
	}
	if s.Envelope.To != "" {
		fmt.Fprintf(&b, "To: %s\n", s.Envelope.To)
	}
	if s.Envelope.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", s.Envelope.Subject)
	}
	if s.Envelope.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", s.Envelope.Date)
	}

	fmt.Fprintf(&b, "Text body: %s\n", bodyLine(s.HasText(), len(s.TextBody)))
	fmt.Fprintf(&b, "Html body: %s\n", bodyLine(s.HasHtml(), len(s.HtmlBody)))
	fmt.Fprintf(&b, "Inline images: %d\n", s.ImageCount())
	fmt.Fprintf(&b, "Attachments: %d\n", s.AttachmentCount())

	if len(s.Artifacts) > 0 {
		files := make([]string, 0, len(s.Artifacts))
		for _, art := range s.Artifacts {
			files = append(files, fmt.Sprintf("%s (%s)", art.Name, formatSize(art.Size)))
		}
		fmt.Fprintf(&b, "Files: %s\n", strings.Join(files, ", "))
	}

	writeWarnings(&b, s.Warnings)
	b.WriteString("========================================\n")

	fmt.Fprint(r.writer, b.String())
}

// Batch prints an mbox burst report.
func (r *Renderer) Batch(rep *mbox.Report) {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Run: %s\n", rep.RunID)
	fmt.Fprintf(&b, "Messages: %d (extracted %d, failed %d)\n", rep.Messages, rep.Extracted, rep.Failed)
	writeWarnings(&b, rep.Warnings)
	b.WriteString("========================================\n")

	fmt.Fprint(r.writer, b.String())
}

func writeWarnings(b *strings.Builder, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(b, "Warnings (%d):\n", len(warnings))
	for _, w := range warnings {
		fmt.Fprintf(b, "  - %s\n", w)
	}
}

func bodyLine(present bool, size int) string {
	if !present {
		return "none"
	}
	return formatSize(size)
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
