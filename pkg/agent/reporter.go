package agent

import (
	"time"

	"github.com/adrianbrad/queue"
	"github.com/rs/zerolog/log"
)

const (
	maxReportAttempts  = 10
	reportRetryStep    = 10 * time.Second
	maxReportRetryWait = 5 * time.Minute
)

// reportEntry is one command result awaiting delivery to the server.
type reportEntry struct {
	CommandID string
	Success   bool
	Output    string
	Due       time.Time
	Attempts  int
}

// Reporter buffers command results between check-ins, ordered by due time.
// Results that fail to deliver are retried with growing delays and dropped
// after too many attempts.
type Reporter struct {
	q *queue.Priority[reportEntry]
}

// NewReporter returns an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{
		q: queue.NewPriority(nil, func(elem, otherElem reportEntry) bool {
			return elem.Due.Before(otherElem.Due)
		}),
	}
}

// Offer records a fresh result for delivery on the next check-in.
func (r *Reporter) Offer(commandID string, success bool, output string) {
	entry := reportEntry{
		CommandID: commandID,
		Success:   success,
		Output:    output,
		Due:       time.Now().UTC(),
	}
	if err := r.q.Offer(entry); err != nil {
		log.Error().Err(err).Str("command", commandID).Msg("Failed to buffer command result")
	}
}

// Due pops every entry whose due time has passed.
func (r *Reporter) Due(now time.Time) []reportEntry {
	var due []reportEntry
	for {
		head, err := r.q.Peek()
		if err != nil {
			return due
		}
		if head.Due.After(now) {
			return due
		}
		entry, err := r.q.Get()
		if err != nil {
			return due
		}
		due = append(due, entry)
	}
}

// Requeue puts undelivered entries back with a retry delay. Entries past the
// attempt limit are dropped with a log line so one dead server cannot grow
// the buffer forever.
func (r *Reporter) Requeue(entries []reportEntry) {
	now := time.Now().UTC()
	for _, entry := range entries {
		entry.Attempts++
		if entry.Attempts >= maxReportAttempts {
			log.Warn().Str("command", entry.CommandID).Msg("Dropping undeliverable command result")
			continue
		}
		wait := time.Duration(entry.Attempts) * reportRetryStep
		if wait > maxReportRetryWait {
			wait = maxReportRetryWait
		}
		entry.Due = now.Add(wait)
		if err := r.q.Offer(entry); err != nil {
			log.Error().Err(err).Str("command", entry.CommandID).Msg("Failed to requeue command result")
		}
	}
}

// Size reports how many results are buffered.
func (r *Reporter) Size() int {
	return r.q.Size()
}
