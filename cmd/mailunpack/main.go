// Package main is the entry point for the mailunpack CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dkoren/mailunpack/internal/config"
	"github.com/dkoren/mailunpack/internal/email"
	"github.com/dkoren/mailunpack/internal/extract"
	"github.com/dkoren/mailunpack/internal/mbox"
	"github.com/dkoren/mailunpack/internal/report"
	"github.com/dkoren/mailunpack/internal/sniff"
	"github.com/dkoren/mailunpack/internal/store"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	forceBase64 bool
	forceRaw    bool
)

var rootCmd = &cobra.Command{
	Use:   "mailunpack <input-path> [output-dir]",
	Short: "Extract bodies, inline images and attachments from an email",
	Long: `mailunpack reads an email message and writes its decoded content to an
output directory: the plain text body, the HTML body, the full headers,
every inline image with a metadata sidecar, and every attachment.

The input format is detected automatically: raw MIME text, a base64
encoded message, or a JSON envelope carrying either. Use --raw or
--base64 to skip detection.`,
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE:         runExtract,
}

var summaryCmd = &cobra.Command{
	Use:   "summary <input-path>",
	Short: "Print a JSON summary of an email without writing any files",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummary,
}

var mboxCmd = &cobra.Command{
	Use:   "mbox <mbox-path> [output-dir]",
	Short: "Extract every message of an mbox file into per-message directories",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runMbox,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")

	rootCmd.Flags().BoolVar(&forceBase64, "base64", false, "treat the input as a base64 encoded message")
	rootCmd.Flags().BoolVar(&forceRaw, "raw", false, "treat the input as raw MIME text")
	rootCmd.MarkFlagsMutuallyExclusive("base64", "raw")

	summaryCmd.Flags().BoolVar(&forceBase64, "base64", false, "treat the input as a base64 encoded message")
	summaryCmd.Flags().BoolVar(&forceRaw, "raw", false, "treat the input as raw MIME text")
	summaryCmd.MarkFlagsMutuallyExclusive("base64", "raw")

	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(mboxCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	outputDir := cfg.Output.Dir
	if len(args) > 1 {
		outputDir = args[1]
	}

	target, err := selectStore(cmd.Context(), cfg, outputDir)
	if err != nil {
		return err
	}

	summary, err := extract.File(cmd.Context(), args[0], outputDir, extract.Options{
		Force:   forceMode(),
		Store:   target,
		MaxSize: cfg.Limits.MaxMessageSize,
	})
	if err != nil {
		return err
	}

	report.NewWithWriter(cmd.OutOrStdout()).Summary(summary)
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read input %s: %w", args[0], err)
	}
	if cfg.Limits.MaxMessageSize > 0 && int64(len(data)) > cfg.Limits.MaxMessageSize {
		return fmt.Errorf("input %s exceeds size limit (%d > %d bytes)", args[0], len(data), cfg.Limits.MaxMessageSize)
	}

	summary, err := extract.Summarize(data, extract.Options{Force: forceMode()})
	if err != nil {
		return err
	}

	view := struct {
		Headers         email.Envelope   `json:"headers"`
		HasText         bool             `json:"has_text"`
		HasHtml         bool             `json:"has_html"`
		TextPreview     string           `json:"text_preview,omitempty"`
		HtmlPreview     string           `json:"html_preview,omitempty"`
		ImageCount      int              `json:"image_count"`
		AttachmentCount int              `json:"attachment_count"`
		Parts           []email.PartInfo `json:"parts"`
		Warnings        []string         `json:"warnings,omitempty"`
	}{
		Headers:         summary.Envelope,
		HasText:         summary.HasText(),
		HasHtml:         summary.HasHtml(),
		TextPreview:     summary.TextPreview(),
		HtmlPreview:     summary.HtmlPreview(),
		ImageCount:      summary.ImageCount(),
		AttachmentCount: summary.AttachmentCount(),
		Parts:           summary.Parts,
		Warnings:        summary.Warnings,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func runMbox(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	outputDir := cfg.Output.Dir
	if len(args) > 1 {
		outputDir = args[1]
	}

	target, err := selectStore(cmd.Context(), cfg, outputDir)
	if err != nil {
		return err
	}

	rep, err := mbox.Burst(cmd.Context(), args[0], outputDir, extract.Options{
		Force: sniff.ForceRaw,
		Store: target,
	})
	if err != nil {
		return err
	}

	report.NewWithWriter(cmd.OutOrStdout()).Batch(rep)
	return nil
}

// setup loads the configuration, applies command line overrides and
// configures the default logger.
func setup() (*config.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = strings.ToLower(logLevel)
	}
	if logFormat != "" {
		cfg.Logging.Format = strings.ToLower(logFormat)
	}

	setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// loadConfig loads configuration from file or uses defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the default logger. Logs go to stderr so they
// never mix with results printed on stdout.
func setupLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// selectStore chooses where artifacts are written: the local output
// directory by default, an S3 bucket when one is configured.
func selectStore(ctx context.Context, cfg *config.Config, outputDir string) (store.Writer, error) {
	if !cfg.S3Configured() {
		return store.NewDir(outputDir), nil
	}

	slog.Info("writing artifacts to s3",
		"bucket", cfg.S3.Bucket,
		"endpoint", cfg.S3.Endpoint,
		"prefix", outputDir)

	s, err := store.NewS3(ctx, store.S3Options{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		Bucket:          cfg.S3.Bucket,
		Prefix:          outputDir,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		PathStyle:       cfg.S3.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func forceMode() sniff.Force {
	switch {
	case forceBase64:
		return sniff.ForceBase64
	case forceRaw:
		return sniff.ForceRaw
	}
	return sniff.ForceNone
}
