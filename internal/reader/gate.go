package reader

import (
	"fmt"
	"sync"
	"time"

	"github.com/tillpoint/terminal-core/pkg/enums"
	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
)

// HealthRecord is the per-reader gate state. Records are created lazily; a
// reader with no record is healthy.
type HealthRecord struct {
	ReaderID  string
	Status    enums.ReaderStatus
	Reason    string
	UpdatedAt time.Time
}

// Gate guards whether a physical payment device may accept new transactions.
// The payment transport requires a pad reset after every monetary operation;
// when that reset fails the device may be stuck in an indeterminate UI state,
// so the gate blocks further charges until an operator intervenes or a manual
// reset succeeds.
type Gate struct {
	mu      sync.RWMutex
	records map[string]HealthRecord
	now     func() time.Time
}

// NewGate builds a gate with no degraded readers. Each instance owns its own
// state so gates under test never share records.
func NewGate() *Gate {
	return &Gate{
		records: make(map[string]HealthRecord),
		now:     time.Now,
	}
}

// AssertHealthy fails fast with a non-retryable error when the reader is
// degraded. Callers must not attempt new monetary transactions on failure.
func (g *Gate) AssertHealthy(readerID string) error {
	record := g.Health(readerID)
	if record.Status == enums.ReaderStatusDegraded {
		msg := fmt.Sprintf("reader %s is degraded and requires a manual reset", readerID)
		if record.Reason != "" {
			msg = fmt.Sprintf("%s: %s", msg, record.Reason)
		}
		return pkgerrors.New(pkgerrors.CodeReaderDegraded, msg)
	}
	return nil
}

// Health returns the current record for the reader, defaulting to healthy.
func (g *Gate) Health(readerID string) HealthRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if record, ok := g.records[readerID]; ok {
		return record
	}
	return HealthRecord{
		ReaderID: readerID,
		Status:   enums.ReaderStatusHealthy,
	}
}

// MarkHealthy records a successful reset.
func (g *Gate) MarkHealthy(readerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[readerID] = HealthRecord{
		ReaderID:  readerID,
		Status:    enums.ReaderStatusHealthy,
		UpdatedAt: g.now(),
	}
}

// MarkDegraded blocks the reader from new charges.
func (g *Gate) MarkDegraded(readerID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[readerID] = HealthRecord{
		ReaderID:  readerID,
		Status:    enums.ReaderStatusDegraded,
		Reason:    reason,
		UpdatedAt: g.now(),
	}
}

// ClearHealth removes the record entirely, returning the reader to its
// implicit healthy default.
func (g *Gate) ClearHealth(readerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, readerID)
}

// Records returns a snapshot of all explicit records, for the ops surface.
func (g *Gate) Records() []HealthRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]HealthRecord, 0, len(g.records))
	for _, record := range g.records {
		out = append(out, record)
	}
	return out
}
