// Package tasks adapts the inbound and outbound sync passes to the runner.
package tasks

import (
	"context"
	"log"
	"time"

	"github.com/gotrs-io/casesync/internal/database"
)

// Task names.
const (
	InboundName  = "inbound"
	OutboundName = "outbound"
)

// DefaultInterval applies when a poll interval is unset.
const DefaultInterval = time.Minute

// Poller runs one sync pass and reports how many items it handled.
type Poller interface {
	PollOnce(ctx context.Context) (int, error)
}

// PollTask drives a Poller every interval. A pass may take up to ten intervals, with a floor of
// five minutes, before its context is cancelled.
type PollTask struct {
	name     string
	poller   Poller
	interval time.Duration
	logger   *log.Logger
}

// NewPollTask returns a task named name that calls poller every interval.
func NewPollTask(name string, poller Poller, interval time.Duration, logger *log.Logger) *PollTask {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PollTask{name: name, poller: poller, interval: interval, logger: logger}
}

// NewInboundTask polls the mailbox into the workspace.
func NewInboundTask(poller Poller, interval time.Duration, logger *log.Logger) *PollTask {
	return NewPollTask(InboundName, poller, interval, logger)
}

// NewOutboundTask sends reply pages flagged for sending.
func NewOutboundTask(poller Poller, interval time.Duration, logger *log.Logger) *PollTask {
	return NewPollTask(OutboundName, poller, interval, logger)
}

func (t *PollTask) Name() string { return t.name }

func (t *PollTask) Schedule() string { return "@every " + t.interval.String() }

func (t *PollTask) Timeout() time.Duration {
	if d := 10 * t.interval; d > 5*time.Minute {
		return d
	}
	return 5 * time.Minute
}

func (t *PollTask) Run(ctx context.Context) error {
	n, err := t.poller.PollOnce(ctx)
	if n > 0 {
		t.logger.Printf("%s: handled %d item(s)", t.name, n)
	}
	if database.IsConnectionError(err) {
		t.logger.Printf("%s: store unreachable, retrying in %s", t.name, t.interval)
	}
	return err
}
