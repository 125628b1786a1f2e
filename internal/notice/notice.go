// Package notice synthesizes short failure-notice audio clips through an
// ordered chain of strategies. When the primary speech-synthesis path is
// unavailable, the chain walks its strategies in priority order until one
// produces a usable file; the terminal strategy writes a silent WAV clip and
// depends on nothing but a writable filesystem, so a configured chain fails
// only when the disk itself does.
package notice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrAllStrategiesFailed is returned by [Chain.SynthesizeNotice] when every
// strategy in the chain failed. Callers treat this as a degraded mode, no
// notice audio is played, never as a fatal error.
var ErrAllStrategiesFailed = errors.New("notice: all synthesis strategies failed")

// Result reports where a notice clip was produced. Format is the extension
// of the file actually written (e.g. "mp3", "wav"), which may differ from the
// extension of the requested output path when a strategy could only produce
// an intermediate format. Strategy names the strategy that produced the file;
// it is empty when an existing file short-circuited the chain.
type Result struct {
	Path     string
	Format   string
	Strategy string
}

// Strategy is one way of producing a notice clip. Attempt writes audio for
// message to outputPath or a sibling path with a different extension, and
// returns the path and format it actually produced. Any failure, including
// "capability unavailable", is non-fatal to the chain.
type Strategy interface {
	// Name identifies the strategy in log output.
	Name() string

	Attempt(ctx context.Context, message, outputPath string) (Result, error)
}

// Chain tries strategies strictly in priority order.
type Chain struct {
	strategies []Strategy
	log        *slog.Logger
}

// NewChain creates a Chain. Strategies are tried in the given order; the last
// one should be [SilentClipStrategy] so the chain terminates successfully
// whenever the filesystem is writable.
func NewChain(log *slog.Logger, strategies ...Strategy) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{strategies: strategies, log: log}
}

// SynthesizeNotice produces an audio clip for message at or near outputPath.
//
// If a file already exists at outputPath, or at a sibling path a strategy
// derived from it on an earlier run (same base name, different audio
// extension), the chain short-circuits and reports it without
// re-synthesizing. Otherwise each strategy is attempted in order;
// the first success wins. The returned Result names the file and format that
// were actually produced. SynthesizeNotice returns an error only when every
// strategy failed, and never panics.
func (c *Chain) SynthesizeNotice(ctx context.Context, message, outputPath string) (Result, error) {
	if res, ok := existingClip(outputPath); ok {
		c.log.Debug("notice clip already exists, skipping synthesis", "path", res.Path)
		return res, nil
	}

	var errs []error
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		res, err := func() (res Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
				}
			}()
			return s.Attempt(ctx, message, outputPath)
		}()
		if err == nil {
			if res.Format == "" {
				res.Format = formatOf(res.Path)
			}
			res.Strategy = s.Name()
			c.log.Info("notice clip synthesized",
				"strategy", s.Name(),
				"path", res.Path,
				"format", res.Format)
			return res, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		c.log.Warn("notice strategy failed, trying next",
			"strategy", s.Name(),
			"error", err)
	}
	return Result{}, fmt.Errorf("%w: %w", ErrAllStrategiesFailed, errors.Join(errs...))
}

// clipFormats are the extensions a strategy may have produced on an earlier
// run when it could not write the requested format directly.
var clipFormats = []string{"mp3", "wav", "ogg", "opus"}

// existingClip reports a usable clip at outputPath or at a sibling path a
// strategy derived from it. Strategies keep the base name and swap only the
// extension, so those siblings are the only candidates.
func existingClip(outputPath string) (Result, bool) {
	candidates := []string{outputPath}
	for _, f := range clipFormats {
		if p := withExt(outputPath, f); p != outputPath {
			candidates = append(candidates, p)
		}
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() && info.Size() > 0 {
			return Result{Path: p, Format: formatOf(p)}, true
		}
	}
	return Result{}, false
}

// formatOf extracts the extension of path without the leading dot.
func formatOf(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

// withExt swaps the extension of path for ext (without dot).
func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
}
