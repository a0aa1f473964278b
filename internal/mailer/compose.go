package mailer

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/gotrs-io/casesync/internal/threading"
	"github.com/gotrs-io/casesync/internal/utils"
)

var headerBreaks = regexp.MustCompile(`[\r\n]+`)

// Compose renders msg as an RFC 5322 message: a multipart/alternative body with the plain
// text derived from the HTML when Text is empty, followed by any attachments.
func Compose(msg *Message) ([]byte, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}

	var h gomail.Header
	h.SetAddressList("From", []*gomail.Address{{Name: msg.FromName, Address: msg.From}})
	h.SetAddressList("Reply-To", []*gomail.Address{{Address: msg.From}})
	h.SetAddressList("To", addressList(msg.To))
	if cc := addressList(msg.Cc); len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(headerBreaks.ReplaceAllString(strings.TrimSpace(msg.Subject), " "))
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)

	messageID := msg.MessageID
	if messageID == "" {
		messageID = threading.NewMessageID(threading.DomainOf(msg.From))
	}
	h.Set("Message-Id", threading.Bracket(messageID))
	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
	}
	if msg.References != "" {
		h.Set("References", msg.References)
	}
	if id := strings.TrimSpace(msg.TicketID); id != "" {
		h.Set(threading.TicketHeader, id)
	}

	text := msg.Text
	if text == "" {
		text = utils.PlainText(msg.HTML)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("mailer: create writer: %w", err)
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("mailer: create body: %w", err)
	}
	if err := writeInline(iw, "text/plain", text); err != nil {
		return nil, err
	}
	if err := writeInline(iw, "text/html", msg.HTML); err != nil {
		return nil, err
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("mailer: close body: %w", err)
	}

	for _, att := range msg.Attachments {
		var ah gomail.AttachmentHeader
		ah.SetContentType(attachmentType(att), nil)
		ah.SetFilename(att.Filename)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("mailer: create attachment %s: %w", att.Filename, err)
		}
		if _, err := w.Write(att.Data); err != nil {
			w.Close()
			return nil, fmt.Errorf("mailer: write attachment %s: %w", att.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("mailer: close attachment %s: %w", att.Filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("mailer: close message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(iw *gomail.InlineWriter, contentType, body string) error {
	var ph gomail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("mailer: create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return fmt.Errorf("mailer: write %s part: %w", contentType, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mailer: close %s part: %w", contentType, err)
	}
	return nil
}

func addressList(addrs []string) []*gomail.Address {
	out := make([]*gomail.Address, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, &gomail.Address{Address: a})
		}
	}
	return out
}

func attachmentType(att Attachment) string {
	if ct := strings.TrimSpace(att.ContentType); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(att.Filename))); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}
