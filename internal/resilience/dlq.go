package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/titan-sync/internal/model"
)

// Error types recorded on dead letters.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// ClassifyError categorizes an error as transient or permanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

// NewDeadLetter builds a dead letter for a record that exhausted its attempts.
func NewDeadLetter(runID string, customerID int64, payload []byte, err error, attempts int) model.DeadLetter {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return model.DeadLetter{
		ID:         uuid.New().String(),
		RunID:      runID,
		CustomerID: customerID,
		Payload:    payload,
		Error:      msg,
		ErrorType:  ClassifyError(err),
		Attempts:   attempts,
		CreatedAt:  time.Now().UTC(),
	}
}
