// Package testutil holds in-memory stores shared by package tests. Every
// store is safe for concurrent use and supports error injection.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mci/mci/internal/domain/patient"
)

// Patients is an in-memory patient.Repository.
type Patients struct {
	mu      sync.RWMutex
	records map[string]*patient.Record

	// FindErr fails FindByHealthID; MatchErr fails FindAllMatching.
	FindErr  error
	MatchErr error
	// Queries counts FindAllMatching calls.
	Queries int
}

func NewPatients(records ...*patient.Record) *Patients {
	p := &Patients{records: map[string]*patient.Record{}}
	for _, r := range records {
		p.Put(r)
	}
	return p
}

// Put stores a copy of r, replacing any record with the same health id.
func (p *Patients) Put(r *patient.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := *r
	p.records[r.HealthID] = &c
}

func (p *Patients) Create(_ context.Context, r *patient.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	c := *r
	p.records[r.HealthID] = &c
	return nil
}

func (p *Patients) Update(_ context.Context, r *patient.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.records[r.HealthID]; !ok {
		return patient.ErrNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	c := *r
	p.records[r.HealthID] = &c
	return nil
}

func (p *Patients) FindByHealthID(_ context.Context, healthID string) (*patient.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.FindErr != nil {
		return nil, p.FindErr
	}
	r, ok := p.records[healthID]
	if !ok {
		return nil, patient.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (p *Patients) FindAllMatching(_ context.Context, pred patient.Predicate) ([]*patient.Record, error) {
	p.mu.Lock()
	p.Queries++
	p.mu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.MatchErr != nil {
		return nil, p.MatchErr
	}
	var out []*patient.Record
	for _, r := range p.records {
		if pred.Matches(r) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HealthID < out[j].HealthID })
	return out, nil
}

// NoTx runs fn directly.
type NoTx struct{}

func (NoTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
