package service

import "context"

type passthroughRedactor struct{}

// NewRedactor returns the DLP stage applied to chunk text before
// embedding. Redaction rules are not defined yet, so the stage passes
// content through unchanged; processors already call it so rules can be
// added without touching the pipeline.
func NewRedactor() Redactor {
	return passthroughRedactor{}
}

func (passthroughRedactor) Redact(_ context.Context, text string) (string, error) {
	return text, nil
}
