// Package security implements the optional transcript redaction pass
// named in SPEC_FULL.md §4.13: before the tracer persists a turn's
// transcript (the only text it stores), scrub PII through a Microsoft Presidio
// analyzer+anonymizer pair, so a redaction policy never has to touch
// the hot conversational path (the LLM and TTS still see raw text).
//
// Grounded on the teacher's internal/security package, which performed
// the same two-step analyze-then-anonymize call against the caller's
// stored conversation history; adapted here into a single Redactor
// satisfying tracer.Redactor, with the per-subclient plumbing collapsed
// into one file and its unused configuration knobs trimmed.
package security

import (
	"context"

	"github.com/rs/zerolog"
)

// Redactor detects and scrubs PII from a piece of text via Presidio.
// Disabled (the zero-configuration default), it is a pass-through.
type Redactor struct {
	cfg    *Config
	http   *httpClient
	logger zerolog.Logger
}

// NewRedactor builds a redactor bound to cfg's Presidio endpoints.
func NewRedactor(cfg *Config, logger zerolog.Logger) *Redactor {
	return &Redactor{cfg: cfg, http: newHTTPClient(), logger: logger}
}

// RedactPII analyzes text for PII and, if any is found, anonymizes it.
// Any failure reaching Presidio is non-fatal: the original text is
// returned alongside the error so the caller can choose to persist it
// unredacted rather than block on a DLP service being down (spec.md §7,
// SPEC_FULL.md §4.13).
func (r *Redactor) RedactPII(ctx context.Context, text string) (string, error) {
	if !r.cfg.Enabled || text == "" {
		return text, nil
	}

	results, err := r.analyze(ctx, text)
	if err != nil {
		r.logger.Warn().Err(err).Msg("pii analysis failed, leaving text unredacted")
		return text, err
	}
	if len(results) == 0 {
		return text, nil
	}

	redacted, err := r.anonymize(ctx, text, results)
	if err != nil {
		r.logger.Warn().Err(err).Msg("pii anonymization failed, leaving text unredacted")
		return text, err
	}

	r.logger.Debug().Int("entities", len(results)).Msg("transcript redacted")
	return redacted, nil
}

// Health reports whether both Presidio services are reachable. Wired
// into the control surface's /health endpoint so an operator can tell
// a misconfigured redaction backend apart from a healthy call engine.
func (r *Redactor) Health(ctx context.Context) error {
	if !r.cfg.Enabled {
		return nil
	}
	if err := r.http.ping(ctx, r.cfg.AnalyzerURL); err != nil {
		return err
	}
	return r.http.ping(ctx, r.cfg.AnonymizerURL)
}

func (r *Redactor) analyze(ctx context.Context, text string) ([]AnalyzeResult, error) {
	req := AnalyzeRequest{Text: text, Language: r.cfg.Language}
	if len(r.cfg.EntityTypes) > 0 {
		req.Entities = r.cfg.EntityTypes
	}

	var results []AnalyzeResult
	if err := r.http.postJSON(ctx, r.cfg.AnalyzerURL+"/analyze", req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Redactor) anonymize(ctx context.Context, text string, results []AnalyzeResult) (string, error) {
	req := AnonymizeRequest{
		Text:            text,
		Anonymizers:     r.cfg.anonymizers(),
		AnalyzerResults: results,
	}

	var resp AnonymizeResponse
	if err := r.http.postJSON(ctx, r.cfg.AnonymizerURL+"/anonymize", req, &resp); err != nil {
		return text, err
	}
	return resp.Text, nil
}
