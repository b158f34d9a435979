// Package sanitize implements the gateway's first pipeline stage: Unicode
// normalization and control-character stripping applied to every inbound
// user message before it reaches the Rule Engine.
package sanitize

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/pkg/metrics"
)

// zeroWidthChars strips Unicode characters used to obfuscate injection
// payloads (zero-width joiners, BOM, word joiner, soft hyphen).
var zeroWidthChars = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space (BOM)
	"\u2060", "", // word joiner
	"\u180e", "", // Mongolian vowel separator
	"\u00ad", "", // soft hyphen
)

// Sanitizer normalizes raw input text and rejects input that is empty or
// exceeds the configured length, before any rule evaluation runs.
type Sanitizer struct {
	maxInputChars int
	timeout       time.Duration
	logger        *slog.Logger
	metrics       *metrics.PipelineMetrics
}

// Config configures a Sanitizer.
type Config struct {
	MaxInputChars int
	Timeout       time.Duration
}

// New builds a Sanitizer. logger and m may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.PipelineMetrics) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{
		maxInputChars: cfg.MaxInputChars,
		timeout:       cfg.Timeout,
		logger:        logger,
		metrics:       m,
	}
}

// Sanitize normalizes raw and returns the cleaned text, or a sentinel error
// from domain (ErrInputEmpty, ErrInputTooLong) if the result is unusable.
// The work is bounded by s.timeout so a pathological rune sequence cannot
// stall the pipeline; ctx cancellation is also honored.
func (s *Sanitizer) Sanitize(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.StageDuration.WithLabelValues("sanitize").Observe(time.Since(start).Seconds())
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cleaned, err := s.normalize(ctx, raw)
	if err != nil {
		return "", err
	}

	if cleaned == "" {
		return "", domain.ErrInputEmpty
	}
	if s.maxInputChars > 0 {
		if n := len([]rune(cleaned)); n > s.maxInputChars {
			s.logger.Warn("input rejected: too long", "length", n, "max", s.maxInputChars)
			return "", domain.ErrInputTooLong
		}
	}
	return cleaned, nil
}

// normalize applies NFKC normalization, strips zero-width/control
// characters (preserving \n and \t), and collapses runs of horizontal
// whitespace while keeping line breaks intact.
func (s *Sanitizer) normalize(ctx context.Context, raw string) (string, error) {
	stripped := zeroWidthChars.Replace(raw)
	folded := norm.NFKC.String(stripped)

	var b strings.Builder
	b.Grow(len(folded))
	lastWasSpace := false
	for i, r := range folded {
		if i%4096 == 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
			}
		}
		switch {
		case r == '\n':
			b.WriteRune(r)
			lastWasSpace = false
		case r == '\t':
			if !lastWasSpace {
				b.WriteRune(r)
			}
			lastWasSpace = true
		case unicode.IsControl(r):
			// drop all other control characters outright
			continue
		case unicode.IsSpace(r):
			if !lastWasSpace {
				b.WriteRune(' ')
			}
			lastWasSpace = true
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}

	return strings.TrimSpace(b.String()), nil
}
