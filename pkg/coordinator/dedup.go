package coordinator

import (
	"context"
	"fmt"

	"github.com/docuflow/ingest-backend/pkg/metrics"
)

// Dedup actions.
const (
	DedupActionSkip      = "skip"
	DedupActionCreateNew = "create_new"
)

// DeduplicationResult reports whether a document's content was already
// claimed by another document.
type DeduplicationResult struct {
	IsDuplicate        bool   `json:"is_duplicate"`
	ExistingDocumentID string `json:"existing_document_id,omitempty"`
	Action             string `json:"action"`
}

// Deduplicate records documentID as the owner of contentHash if the hash is
// unclaimed (first writer wins) and reports a duplicate when a different
// document already owns it. A document re-presenting a hash it owns is not
// its own duplicate: reprocessing unchanged content is legitimate.
func (c *Coordinator) Deduplicate(ctx context.Context, documentID, contentHash string) (*DeduplicationResult, error) {
	owner, _, err := c.repo.Hashes.Claim(ctx, contentHash, documentID)
	if err != nil {
		return nil, fmt.Errorf("claiming content hash: %w", err)
	}
	if owner != documentID {
		metrics.DuplicateDocumentsTotal.Inc()
		return &DeduplicationResult{
			IsDuplicate:        true,
			ExistingDocumentID: owner,
			Action:             DedupActionSkip,
		}, nil
	}
	return &DeduplicationResult{
		IsDuplicate: false,
		Action:      DedupActionCreateNew,
	}, nil
}
