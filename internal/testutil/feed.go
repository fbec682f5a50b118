package testutil

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mci/mci/internal/domain/updatelog"
)

// UpdateLog is an in-memory updatelog.Repository ordered by event id.
type UpdateLog struct {
	mu      sync.Mutex
	entries []updatelog.Entry

	AppendErr error
	ReadErr   error
}

func NewUpdateLog() *UpdateLog {
	return &UpdateLog{}
}

func (l *UpdateLog) Append(_ context.Context, e *updatelog.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AppendErr != nil {
		return l.AppendErr
	}
	if e.EventID == uuid.Nil {
		e.EventID = uuid.Must(uuid.NewV7())
	}
	l.entries = append(l.entries, *e)
	return nil
}

func (l *UpdateLog) NextAfter(_ context.Context, marker uuid.UUID) (*updatelog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ReadErr != nil {
		return nil, l.ReadErr
	}
	var next *updatelog.Entry
	for i := range l.entries {
		e := &l.entries[i]
		if bytes.Compare(e.EventID[:], marker[:]) <= 0 {
			continue
		}
		if next == nil || bytes.Compare(e.EventID[:], next.EventID[:]) < 0 {
			next = e
		}
	}
	if next == nil {
		return nil, nil
	}
	c := *next
	return &c, nil
}

// Entries returns a copy of the log in append order.
func (l *UpdateLog) Entries() []updatelog.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]updatelog.Entry(nil), l.entries...)
}

// Markers is an in-memory feed.MarkerRepository.
type Markers struct {
	mu      sync.Mutex
	markers map[string]uuid.UUID

	ReadErr  error
	WriteErr error
	Writes   int
}

func NewMarkers() *Markers {
	return &Markers{markers: map[string]uuid.UUID{}}
}

func (m *Markers) Read(_ context.Context, consumer string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return uuid.Nil, false, m.ReadErr
	}
	id, ok := m.markers[consumer]
	return id, ok, nil
}

func (m *Markers) Write(_ context.Context, consumer string, marker uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.markers[consumer] = marker
	m.Writes++
	return nil
}
