package publish

import (
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/dnslb/internal/zone"
)

// ShouldPublish reports whether candidate may replace previous. The delta
// is the number of root addresses lost; gaining addresses is always fine.
func ShouldPublish(previous, candidate *zone.Document, lastPublishedAt, now time.Time, changeBudget int, maxStaleness time.Duration) bool {
	delta := previous.AddressCount() - candidate.AddressCount()
	if delta < changeBudget {
		return true
	}
	return now.Sub(lastPublishedAt) > maxStaleness
}

// Policy tracks what was last published and applies ShouldPublish.
type Policy struct {
	changeBudget int
	maxStaleness time.Duration
	logger       *slog.Logger

	mutex           sync.Mutex
	lastPublished   *zone.Document
	lastPublishedAt time.Time
}

func NewPolicy(changeBudget int, maxStaleness time.Duration, logger *slog.Logger) *Policy {
	return &Policy{
		changeBudget: changeBudget,
		maxStaleness: maxStaleness,
		logger:       logger,
	}
}

// Offer decides on a candidate without recording it. Call Accept once the
// candidate has actually been written.
func (p *Policy) Offer(candidate *zone.Document, now time.Time) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if ShouldPublish(p.lastPublished, candidate, p.lastPublishedAt, now, p.changeBudget, p.maxStaleness) {
		return true
	}

	p.logger.Info("Too many changes, holding off write",
		slog.Int("delta", p.lastPublished.AddressCount()-candidate.AddressCount()),
		slog.Int("budget", p.changeBudget),
		slog.Duration("age", now.Sub(p.lastPublishedAt)))
	return false
}

// Accept records doc as the published zone.
func (p *Policy) Accept(doc *zone.Document, at time.Time) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.lastPublished = doc
	p.lastPublishedAt = at
}

// Last returns the last published document and when it was published.
func (p *Policy) Last() (*zone.Document, time.Time) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.lastPublished, p.lastPublishedAt
}
