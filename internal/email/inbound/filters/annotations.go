package filters

const (
	// AnnotationRoute holds the caseresolver.Route the message was addressed to.
	AnnotationRoute = "postmaster.route"
	// AnnotationIgnoreMessage marks a message the postmaster must skip.
	AnnotationIgnoreMessage = "postmaster.ignore_message"
	// AnnotationIgnoreReason names why the message was skipped.
	AnnotationIgnoreReason = "postmaster.ignore_reason"
	// AnnotationTicketID holds a ticket id found in the headers or subject.
	AnnotationTicketID = "postmaster.ticket_id"
)

// Ignore reasons.
const (
	ReasonNoAlias = "no_alias"
	ReasonDraft   = "draft"
)

func annotate(m *MessageContext, key string, value any) {
	if m.Annotations == nil {
		m.Annotations = make(map[string]any)
	}
	m.Annotations[key] = value
}

// Ignore marks the message as skipped with reason.
func Ignore(m *MessageContext, reason string) {
	annotate(m, AnnotationIgnoreMessage, true)
	annotate(m, AnnotationIgnoreReason, reason)
}

// Ignored reports whether a filter marked the message as skipped, and why.
func Ignored(m *MessageContext) (bool, string) {
	if m == nil || m.Annotations == nil {
		return false, ""
	}
	ignored, _ := m.Annotations[AnnotationIgnoreMessage].(bool)
	reason, _ := m.Annotations[AnnotationIgnoreReason].(string)
	return ignored, reason
}

// TicketID returns the ticket id annotation, if any.
func TicketID(m *MessageContext) string {
	if m == nil || m.Annotations == nil {
		return ""
	}
	id, _ := m.Annotations[AnnotationTicketID].(string)
	return id
}
