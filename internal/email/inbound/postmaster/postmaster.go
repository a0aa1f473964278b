package postmaster

import (
	"context"

	"github.com/gotrs-io/casesync/internal/email/inbound/connector"
	"github.com/gotrs-io/casesync/internal/email/inbound/filters"
)

// Actions reported in Result.Action.
const (
	ActionNewCase   = "new_case"
	ActionFollowUp  = "follow_up"
	ActionDuplicate = "duplicate"
	ActionIgnored   = "ignored"
)

// Processor turns one filtered message into workspace records.
type Processor interface {
	Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error)
}

// Result tracks what happened to a message.
type Result struct {
	CaseID   string
	EmailID  string
	TicketID string
	Action   string
	Reason   string
}

// Service wires filters and the processor behind connector.Handler.
type Service struct {
	Account     connector.Account
	FilterChain filters.Chain
	Handler     Processor
}

// Handle implements connector.Handler by running the filter chain then the processor.
// Ignored messages report connector.ErrUnhandled so they are not archived.
func (s Service) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	ctxMsg := &filters.MessageContext{
		Account:     s.Account,
		Message:     msg,
		Annotations: map[string]any{},
	}
	if err := s.FilterChain.Run(ctx, ctxMsg); err != nil {
		return err
	}
	res, err := s.Handler.Process(ctx, msg, ctxMsg)
	if err != nil {
		return err
	}
	if res.Action == ActionIgnored {
		return connector.ErrUnhandled
	}
	return nil
}
