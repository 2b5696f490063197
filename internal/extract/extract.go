// Package extract runs the extraction pipeline: format resolution, tree
// walk, per-part materialization and summary assembly.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dkoren/mailunpack/internal/decode"
	"github.com/dkoren/mailunpack/internal/email"
	"github.com/dkoren/mailunpack/internal/parser"
	"github.com/dkoren/mailunpack/internal/sniff"
	"github.com/dkoren/mailunpack/internal/store"
)

// Options control one extraction run.
type Options struct {
	// Force overrides format detection.
	Force sniff.Force
	// Store overrides the default local-directory writer.
	Store store.Writer
	// MaxSize rejects input files larger than this many bytes; zero means
	// no limit.
	MaxSize int64
}

// File reads path and extracts its content into outputDir. JSON envelopes
// and base64 transport layers are resolved by detection unless forced.
func File(ctx context.Context, path, outputDir string, opts Options) (*email.Summary, error) {
	if opts.MaxSize > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() > opts.MaxSize {
			return nil, fmt.Errorf("input %s exceeds size limit (%d > %d bytes)", path, info.Size(), opts.MaxSize)
		}
	}
	input, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}
	return Email(ctx, input, outputDir, opts)
}

// Email is the main entry point. It resolves the input format, walks the
// part tree and materializes every classified leaf into the output target,
// producing the target even when only some parts could be extracted.
func Email(ctx context.Context, input []byte, outputDir string, opts Options) (*email.Summary, error) {
	raw, format, err := sniff.Resolve(input, opts.Force)
	if err != nil {
		return nil, err
	}
	slog.Debug("input resolved", "format", format, "bytes", len(raw))

	root, warnings := parser.Parse(raw)
	leaves := parser.Walk(root)

	w := opts.Store
	if w == nil {
		w = store.NewDir(outputDir)
	}
	if err := w.Ensure(ctx); err != nil {
		return nil, err
	}

	m := newMaterializer(w)
	summary := &email.Summary{
		Envelope: parser.Envelope(root),
		Warnings: warnings,
	}

	if len(root.RawHeader) > 0 {
		art, warn := m.write(ctx, email.KindHeaderDump, "headers.txt", root.RawHeader, 0)
		if warn != "" {
			summary.Warnings = append(summary.Warnings, warn)
		} else {
			summary.Artifacts = append(summary.Artifacts, art)
		}
	}

	for _, l := range leaves {
		res := m.leaf(ctx, l)
		summary.Parts = append(summary.Parts, res.info)
		summary.Artifacts = append(summary.Artifacts, res.artifacts...)
		for _, warn := range res.warnings {
			summary.Warnings = append(summary.Warnings, warn)
			slog.Warn("part degraded", "part", l.Path, "content_type", l.Part.ContentType, "detail", warn)
		}
		switch l.Kind {
		case email.KindTextBody:
			summary.TextBody = res.text
		case email.KindHtmlBody:
			summary.HtmlBody = res.text
		}
	}
	return summary, nil
}

// Base64 extracts input known to be a base64 blob.
func Base64(ctx context.Context, input []byte, outputDir string) (*email.Summary, error) {
	return Email(ctx, input, outputDir, Options{Force: sniff.ForceBase64})
}

// Raw extracts input known to be raw MIME text.
func Raw(ctx context.Context, input []byte, outputDir string) (*email.Summary, error) {
	return Email(ctx, input, outputDir, Options{Force: sniff.ForceRaw})
}

// Summarize resolves and walks the input with no filesystem side effects,
// returning bodies, classified parts and counts for a preview.
func Summarize(input []byte, opts Options) (*email.Summary, error) {
	raw, _, err := sniff.Resolve(input, opts.Force)
	if err != nil {
		return nil, err
	}
	root, warnings := parser.Parse(raw)
	summary := &email.Summary{
		Envelope: parser.Envelope(root),
		Warnings: warnings,
	}
	for _, l := range parser.Walk(root) {
		p := l.Part
		info := partInfo(l)
		data, err := decode.Transfer(p.Payload, p.TransferEncoding)
		if err != nil {
			summary.Warnings = append(summary.Warnings, transferWarning(l, err))
			summary.Parts = append(summary.Parts, info)
			continue
		}
		info.Size = len(data)
		switch l.Kind {
		case email.KindTextBody:
			summary.TextBody = decode.Text(data, p.Charset)
		case email.KindHtmlBody:
			summary.HtmlBody = decode.Text(data, p.Charset)
		}
		summary.Parts = append(summary.Parts, info)
	}
	return summary, nil
}

// materializer writes classified leaves through a store writer, tracking
// produced names so no two artifacts of one run collide.
type materializer struct {
	w    store.Writer
	used map[string]bool
}

func newMaterializer(w store.Writer) *materializer {
	// the fixed names are reserved up front so a part whose own filename
	// matches one of them gets disambiguated instead of clobbering it
	return &materializer{
		w: w,
		used: map[string]bool{
			"body.txt":    true,
			"body.html":   true,
			"headers.txt": true,
		},
	}
}

// leafOutcome is the per-leaf processing result. A failed leaf carries its
// warning here instead of failing the run.
type leafOutcome struct {
	info      email.PartInfo
	artifacts []email.Artifact
	warnings  []string
	text      string
}

func (m *materializer) leaf(ctx context.Context, l email.Leaf) leafOutcome {
	p := l.Part
	res := leafOutcome{info: partInfo(l)}

	if !decode.KnownTransfer(p.TransferEncoding) {
		res.warnings = append(res.warnings, fmt.Sprintf("part %s has unrecognized transfer encoding %q, passing payload through", l.Path, p.TransferEncoding))
	}
	data, err := decode.Transfer(p.Payload, p.TransferEncoding)
	if err != nil {
		res.warnings = append(res.warnings, transferWarning(l, err))
		return res
	}
	res.info.Size = len(data)

	switch l.Kind {
	case email.KindTextBody, email.KindHtmlBody:
		name := "body.txt"
		if l.Kind == email.KindHtmlBody {
			name = "body.html"
		}
		res.text = decode.Text(data, p.Charset)
		if res.text == "" {
			res.warnings = append(res.warnings, fmt.Sprintf("part %s (%s) is empty, skipped", l.Path, p.ContentType))
			return res
		}
		art, warn := m.write(ctx, l.Kind, name, []byte(res.text), l.Ordinal)
		if warn != "" {
			res.warnings = append(res.warnings, warn)
			return res
		}
		res.artifacts = append(res.artifacts, art)

	case email.KindInlineImage, email.KindAttachment:
		if len(data) == 0 {
			res.warnings = append(res.warnings, fmt.Sprintf("part %s (%s) is empty, skipped", l.Path, p.ContentType))
			return res
		}
		art, warn := m.write(ctx, l.Kind, m.artifactName(l), data, l.Ordinal)
		if warn != "" {
			res.warnings = append(res.warnings, warn)
			return res
		}
		res.artifacts = append(res.artifacts, art)

		if l.Kind == email.KindInlineImage {
			metaName := m.unique(art.Name + "_metadata.txt")
			meta, warn := m.write(ctx, email.KindMetadata, metaName, imageMetadata(p, len(data), l.Ordinal), l.Ordinal)
			if warn != "" {
				res.warnings = append(res.warnings, warn)
			} else {
				res.artifacts = append(res.artifacts, meta)
			}
		}
	}
	return res
}

// write stores one artifact, retrying once with an aggressively sanitized
// name before skipping the leaf with a warning.
func (m *materializer) write(ctx context.Context, kind email.Kind, name string, data []byte, ordinal int) (email.Artifact, string) {
	err := m.w.Write(ctx, name, data)
	if err == nil {
		return email.Artifact{Kind: kind, Name: name, Size: len(data), Ordinal: ordinal}, ""
	}
	if fallback := strictName(name); fallback != name {
		fallback = m.unique(fallback)
		if err2 := m.w.Write(ctx, fallback, data); err2 == nil {
			return email.Artifact{Kind: kind, Name: fallback, Size: len(data), Ordinal: ordinal}, ""
		}
	}
	return email.Artifact{}, fmt.Sprintf("write %s failed: %v", name, err)
}

// artifactName resolves the output name for an image or attachment leaf:
// the part's own filename when present, a synthesized partN name otherwise,
// disambiguated against everything already produced in this run.
func (m *materializer) artifactName(l email.Leaf) string {
	name := sanitizeName(l.Part.Filename)
	if name == "" {
		name = fmt.Sprintf("part%d.%s", l.Ordinal, extFor(l.Part.ContentType))
	}
	return m.unique(name)
}

func (m *materializer) unique(name string) string {
	if !m.used[name] {
		m.used[name] = true
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !m.used[candidate] {
			m.used[candidate] = true
			return candidate
		}
	}
}

func partInfo(l email.Leaf) email.PartInfo {
	return email.PartInfo{
		Ordinal:     l.Ordinal,
		Path:        l.Path,
		Kind:        l.Kind,
		ContentType: l.Part.ContentType,
		Filename:    l.Part.Filename,
		ContentID:   cleanContentID(l.Part.ContentID),
		Size:        len(l.Part.Payload),
	}
}

func transferWarning(l email.Leaf, err error) string {
	return fmt.Sprintf("part %s (%s): transfer decode failed: %v", l.Path, l.Part.ContentType, err)
}

// imageMetadata renders the key=value sidecar written next to every inline
// image.
func imageMetadata(p *email.Part, decodedSize, ordinal int) []byte {
	var b strings.Builder
	add := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s=%s\n", key, value)
		}
	}
	add("content_id", cleanContentID(p.ContentID))
	add("content_type", p.ContentType)
	add("charset", p.Charset)
	add("filename", p.Filename)
	add("content_disposition", p.Disposition)
	fmt.Fprintf(&b, "size_bytes=%d\n", decodedSize)
	fmt.Fprintf(&b, "part_number=%d\n", ordinal)
	return []byte(b.String())
}

// cleanContentID strips the angle brackets off a Content-ID value.
func cleanContentID(cid string) string {
	return strings.Trim(strings.TrimSpace(cid), "<>")
}

// sanitizeName reduces a client-supplied filename to a safe base name.
func sanitizeName(name string) string {
	if name == "" {
		return ""
	}
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// strictName keeps only portable filename characters.
func strictName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

// extFor derives a file extension from a media type.
func extFor(contentType string) string {
	switch {
	case contentType == "" || contentType == "application/octet-stream":
		return "bin"
	case contentType == "text/plain":
		return "txt"
	case strings.HasPrefix(contentType, "multipart/"):
		return "bin"
	case strings.HasPrefix(contentType, "message/"):
		return "eml"
	}
	i := strings.Index(contentType, "/")
	if i < 0 || i+1 >= len(contentType) {
		return "bin"
	}
	sub := contentType[i+1:]
	if j := strings.Index(sub, "+"); j >= 0 {
		sub = sub[:j]
	}
	return sub
}
