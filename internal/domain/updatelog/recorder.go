package updatelog

import (
	"context"
	"fmt"

	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/platform/auth"
)

// Recorder appends log entries for patient writes. It satisfies
// patient.ChangeRecorder and runs inside the caller's transaction. Event ids
// are left to the repository, which assigns them in commit order.
type Recorder struct {
	repo Repository
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) RecordCreated(ctx context.Context, healthID string, cs patient.ChangeSet) error {
	return r.record(ctx, healthID, EventCreated, cs)
}

func (r *Recorder) RecordUpdated(ctx context.Context, healthID string, cs patient.ChangeSet) error {
	return r.record(ctx, healthID, EventUpdated, cs)
}

func (r *Recorder) record(ctx context.Context, healthID string, eventType EventType, cs patient.ChangeSet) error {
	data, err := cs.Marshal()
	if err != nil {
		return fmt.Errorf("encode change set for %s: %w", healthID, err)
	}
	user := auth.UserIDFromContext(ctx)
	return r.repo.Append(ctx, &Entry{
		HealthID:    healthID,
		EventType:   eventType,
		ChangeSet:   data,
		RequestedBy: user,
		ApprovedBy:  user,
	})
}
