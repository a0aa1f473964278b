package workspace

// Case statuses. A case with no status is New.
const (
	StatusOpen     = "Open"
	StatusNewReply = "New reply"
	StatusResolved = "Resolved"
)

// Case types.
const (
	TypeTechnical = "Technical"
	TypeSupport   = "Support"
	TypeTracking  = "Tracking"
)

// Schema names the databases and properties the engine reads and writes.
type Schema struct {
	Cases    CaseSchema    `mapstructure:"cases"`
	Emails   EmailSchema   `mapstructure:"emails"`
	Contacts ContactSchema `mapstructure:"contacts"`
	Replies  ReplySchema   `mapstructure:"replies"`
}

// CaseSchema names the Support Case database.
type CaseSchema struct {
	Database string `mapstructure:"database"`
	Title    string `mapstructure:"title"`
	Status   string `mapstructure:"status"`
	Type     string `mapstructure:"type"`
	TicketID string `mapstructure:"ticket_id"`
	Partner  string `mapstructure:"partner"`
}

// EmailSchema names the Emails database.
type EmailSchema struct {
	Database    string `mapstructure:"database"`
	Title       string `mapstructure:"title"`
	To          string `mapstructure:"to"`
	From        string `mapstructure:"from"`
	CC          string `mapstructure:"cc"`
	Case        string `mapstructure:"case"`
	UID         string `mapstructure:"uid"`
	ThreadID    string `mapstructure:"thread_id"`
	Link        string `mapstructure:"link"`
	Attachments string `mapstructure:"attachments"`
	MessageID   string `mapstructure:"message_id"`
	References  string `mapstructure:"references"`
	TicketID    string `mapstructure:"ticket_id"`
	Contacts    string `mapstructure:"contacts"`
	Received    string `mapstructure:"received"`
}

// ContactSchema names the Contacts database.
type ContactSchema struct {
	Database string `mapstructure:"database"`
	Title    string `mapstructure:"title"`
	Email    string `mapstructure:"email"`
	Partner  string `mapstructure:"partner"`
}

// ReplySchema names the Replies database.
type ReplySchema struct {
	Database    string `mapstructure:"database"`
	Title       string `mapstructure:"title"`
	From        string `mapstructure:"from"`
	To          string `mapstructure:"to"`
	CC          string `mapstructure:"cc"`
	Attachments string `mapstructure:"attachments"`
	Send        string `mapstructure:"send"`
	Sent        string `mapstructure:"sent"`
	TicketID    string `mapstructure:"ticket_id"`
	InReplyTo   string `mapstructure:"in_reply_to"`
	References  string `mapstructure:"references"`
	IncludeName string `mapstructure:"include_name"`
	ReplyTo     string `mapstructure:"reply_to"`
	Case        string `mapstructure:"case"`
}

// DefaultSchema returns the stock database and property names.
func DefaultSchema() Schema {
	return Schema{
		Cases: CaseSchema{
			Database: "Support Case",
			Title:    "Name",
			Status:   "Status",
			Type:     "Type",
			TicketID: "Ticket ID",
			Partner:  "Partner",
		},
		Emails: EmailSchema{
			Database:    "Emails",
			Title:       "Name",
			To:          "To",
			From:        "From",
			CC:          "CC",
			Case:        "Support Case",
			UID:         "Email UID",
			ThreadID:    "Thread ID",
			Link:        "Email link",
			Attachments: "Attachments",
			MessageID:   "Message ID",
			References:  "References",
			TicketID:    "Ticket ID",
			Contacts:    "Contacts",
			Received:    "Received",
		},
		Contacts: ContactSchema{
			Database: "Contacts",
			Title:    "Name",
			Email:    "Email",
			Partner:  "Partner",
		},
		Replies: ReplySchema{
			Database:    "Replies",
			Title:       "Title",
			From:        "From",
			To:          "To",
			CC:          "CC",
			Attachments: "Attachments",
			Send:        "Send email",
			Sent:        "Email sent",
			TicketID:    "Ticket ID",
			InReplyTo:   "In-Reply-To",
			References:  "References",
			IncludeName: "Include name in signature",
			ReplyTo:     "Reply to",
			Case:        "Support Case",
		},
	}
}
