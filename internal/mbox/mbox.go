// Package mbox bursts every message of an mbox file into its own extraction
// directory.
package mbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/google/uuid"

	"github.com/dkoren/mailunpack/internal/extract"
	"github.com/dkoren/mailunpack/internal/store"
)

const progressEvery = 50

// Report aggregates one burst run.
type Report struct {
	RunID     string   `json:"run_id"`
	Messages  int      `json:"messages"`
	Extracted int      `json:"extracted"`
	Failed    int      `json:"failed"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Burst iterates every message in the mbox file at path and extracts each
// one into msg_NNNN_<hash8>/ under outputDir. Per-message failures are
// recorded in the report and do not stop the run.
func Burst(ctx context.Context, path, outputDir string, opts extract.Options) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox %s: %w", path, err)
	}
	defer f.Close()

	base := opts.Store
	if base == nil {
		base = store.NewDir(outputDir)
	}
	if err := base.Ensure(ctx); err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.Must(uuid.NewV7()).String()}
	slog.Info("mbox burst started", "run_id", report.RunID, "mbox", path)

	reader := mboxlib.NewReader(f)
	for {
		msg, err := reader.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, fmt.Errorf("read mbox message %d: %w", report.Messages+1, err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			return report, fmt.Errorf("read mbox message %d: %w", report.Messages+1, err)
		}
		report.Messages++

		msgOpts := opts
		msgOpts.Store = base.Sub(fmt.Sprintf("msg_%04d_%s", report.Messages, shortHash(raw)))
		summary, err := extract.Email(ctx, raw, "", msgOpts)
		if err != nil {
			report.Failed++
			report.Warnings = append(report.Warnings, fmt.Sprintf("message %d: %v", report.Messages, err))
			slog.Warn("message extraction failed",
				"run_id", report.RunID,
				"message", report.Messages,
				"error", err,
			)
			continue
		}
		report.Extracted++
		for _, w := range summary.Warnings {
			report.Warnings = append(report.Warnings, fmt.Sprintf("message %d: %s", report.Messages, w))
		}
		if report.Messages%progressEvery == 0 {
			slog.Info("burst progress", "run_id", report.RunID, "messages", report.Messages)
		}
	}

	slog.Info("mbox burst finished",
		"run_id", report.RunID,
		"messages", report.Messages,
		"extracted", report.Extracted,
		"failed", report.Failed,
	)
	return report, nil
}

// shortHash returns the first 8 hex digits of the content's SHA-256, used
// to keep burst directory names stable across runs.
func shortHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:8]
}
