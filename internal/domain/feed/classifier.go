package feed

import (
	"errors"
	"fmt"

	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/domain/updatelog"
)

var ErrUnknownEventType = errors.New("unknown event type")

// EventKind is what an update-log entry means for deduplication.
type EventKind int

const (
	KindCreate EventKind = iota + 1
	KindUpdate
	KindRetire
)

func (k EventKind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindRetire:
		return "retire"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Classify labels a log entry. Retirement has no raw event type of its own:
// it is an update whose "active" field flipped from true to false.
func Classify(eventType updatelog.EventType, cs patient.ChangeSet) (EventKind, error) {
	switch eventType {
	case updatelog.EventCreated:
		return KindCreate, nil
	case updatelog.EventUpdated:
		if isRetirement(cs) {
			return KindRetire, nil
		}
		return KindUpdate, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
}

func isRetirement(cs patient.ChangeSet) bool {
	oldValue, newValue, ok := cs.BoolChange("active")
	return ok && oldValue && !newValue
}
