package worker

import "time"

// ProcessingError is the error surface of a failed result. Retryable
// decides whether the dispatcher leaves the message pending for another
// delivery attempt or drops it.
type ProcessingError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ProcessingResult is what a processor reports for one message. Every
// message yields exactly one result, success or failure.
type ProcessingResult struct {
	Success             bool              `json:"success"`
	MessageID           string            `json:"message_id"`
	ProcessingTime      time.Duration     `json:"processing_time"`
	ChunksProcessed     int               `json:"chunks_processed,omitempty"`
	EmbeddingsGenerated int               `json:"embeddings_generated,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	Err                 *ProcessingError  `json:"error,omitempty"`
}

func successResult(start time.Time) *ProcessingResult {
	return &ProcessingResult{
		Success:        true,
		ProcessingTime: time.Since(start),
	}
}

func failureResult(start time.Time, code string, err error, retryable bool) *ProcessingResult {
	return &ProcessingResult{
		Success:        false,
		ProcessingTime: time.Since(start),
		Err: &ProcessingError{
			Code:      code,
			Message:   err.Error(),
			Retryable: retryable,
		},
	}
}
