package postmaster

import (
	"bytes"
	"errors"
	"io"
	"mime"
	stdmail "net/mail"
	"regexp"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/gotrs-io/casesync/internal/contacts"
	"github.com/gotrs-io/casesync/internal/convert"
	"github.com/gotrs-io/casesync/internal/threading"
	"github.com/gotrs-io/casesync/internal/utils"
)

const (
	defaultBodyLimit       = 4 * 1024 * 1024
	defaultAttachmentLimit = 25 * 1024 * 1024
	maxTitleRunes          = 200
	maxAddressesPerField   = 50
)

// GmailThreadHeader carries the Gmail thread id when the message was exported with it.
const GmailThreadHeader = "X-GM-THRID"

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Envelope is the parsed view of one inbound message.
type Envelope struct {
	Subject string
	// From is Reply-To when present, else From. For forwarded mail it is the original sender.
	From        []contacts.Participant
	To          []contacts.Participant
	Cc          []contacts.Participant
	Bcc         []string
	Date        time.Time
	Headers     threading.Headers
	Text        string
	HTML        string
	Inline      convert.InlineParts
	Attachments []Attachment
	Forwarded   bool
}

// Attachment is a part with an attachment disposition.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Participants returns every distinct participant of the message.
func (e Envelope) Participants() []contacts.Participant {
	seen := make(map[string]struct{})
	var out []contacts.Participant
	for _, group := range [][]contacts.Participant{e.From, e.To, e.Cc} {
		for _, p := range group {
			if _, ok := seen[p.Address]; ok {
				continue
			}
			seen[p.Address] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// FromAddresses lists the sender addresses.
func (e Envelope) FromAddresses() []string {
	return addressesOf(e.From)
}

// Body returns the text used for ticket id detection: the text part, else the HTML as text.
func (e Envelope) Body() string {
	if strings.TrimSpace(e.Text) != "" {
		return e.Text
	}
	return utils.PlainText(e.HTML)
}

type envelopeParser struct {
	decoder         *mime.WordDecoder
	bodyLimit       int64
	attachmentLimit int64
	logf            func(format string, args ...any)
}

// parse reads the raw message. Malformed input degrades to whatever could be read.
func (p *envelopeParser) parse(raw []byte, uid uint32) Envelope {
	env := Envelope{Inline: convert.InlineParts{}}
	env.Headers.UID = uid
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && reader == nil {
		p.logf("postmaster: structured parse failed for uid %d: %v", uid, err)
		return p.legacy(raw, uid)
	}
	h := reader.Header
	if subject, err := h.Subject(); err == nil {
		env.Subject = subject
	} else {
		env.Subject = p.decodeHeader(h.Get("Subject"))
	}
	if date, err := h.Date(); err == nil {
		env.Date = date
	}
	env.From = p.participants(&h, "Reply-To")
	if len(env.From) == 0 {
		env.From = p.participants(&h, "From")
	}
	env.To = p.participants(&h, "To")
	env.Cc = p.participants(&h, "Cc")
	env.Bcc = p.bccAddresses(&h)
	env.Headers.MessageID = threading.NormalizeID(h.Get("Message-Id"))
	env.Headers.InReplyTo = threading.NormalizeID(h.Get("In-Reply-To"))
	env.Headers.References = strings.Join(h.Values("References"), " ")
	env.Headers.ThreadID = strings.TrimSpace(h.Get(GmailThreadHeader))

	p.readParts(reader, &env)
	if env.Text == "" && env.HTML == "" {
		legacy := p.legacy(raw, uid)
		env.Text = legacy.Text
	}
	p.applyForwarded(&env)
	return env
}

func (p *envelopeParser) legacy(raw []byte, uid uint32) Envelope {
	env := Envelope{Inline: convert.InlineParts{}}
	env.Headers.UID = uid
	msg, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		p.logf("postmaster: parse message failed for uid %d: %v", uid, err)
		env.Text = string(limitBytes(raw, p.bodyLimit))
		return env
	}
	env.Subject = p.decodeHeader(msg.Header.Get("Subject"))
	env.From = p.parseParticipants(msg.Header.Get("Reply-To"))
	if len(env.From) == 0 {
		env.From = p.parseParticipants(msg.Header.Get("From"))
	}
	env.To = p.parseParticipants(msg.Header.Get("To"))
	env.Cc = p.parseParticipants(msg.Header.Get("Cc"))
	env.Headers.MessageID = threading.NormalizeID(msg.Header.Get("Message-Id"))
	env.Headers.InReplyTo = threading.NormalizeID(msg.Header.Get("In-Reply-To"))
	env.Headers.References = msg.Header.Get("References")
	env.Headers.ThreadID = strings.TrimSpace(msg.Header.Get(GmailThreadHeader))
	body, err := io.ReadAll(io.LimitReader(msg.Body, p.bodyLimit))
	if err != nil {
		p.logf("postmaster: read body failed for uid %d: %v", uid, err)
	}
	env.Text = string(body)
	return env
}

func (p *envelopeParser) readParts(reader *gomail.Reader, env *Envelope) {
	var texts []string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.logf("postmaster: read part failed: %v", err)
			break
		}
		mediaType, params := parseMediaType(part.Header.Get("Content-Type"))
		disposition, dispParams := parseMediaType(part.Header.Get("Content-Disposition"))
		contentID := strings.TrimSpace(part.Header.Get("Content-Id"))

		if disposition == "attachment" {
			if att := p.attachment(part, mediaType, params, dispParams); att != nil {
				env.Attachments = append(env.Attachments, *att)
			}
			continue
		}
		switch {
		case mediaType == "text/html":
			body := p.readText(part.Body)
			if env.HTML == "" && strings.TrimSpace(body) != "" {
				env.HTML = body
			}
		case mediaType == "text/plain" || mediaType == "":
			if body := p.readText(part.Body); strings.TrimSpace(body) != "" {
				texts = append(texts, body)
			}
		case contentID != "":
			data, err := io.ReadAll(io.LimitReader(part.Body, p.attachmentLimit))
			if err != nil || len(data) == 0 {
				continue
			}
			id := convert.NormalizeContentID(contentID)
			env.Inline.Add(convert.InlinePart{
				ContentID:   contentID,
				ContentType: mediaType,
				Filename:    firstNonEmpty(dispParams["filename"], params["name"], "inline-"+id),
				Data:        data,
			})
		}
	}
	env.Text = strings.Join(texts, "\n\n")
}

func (p *envelopeParser) attachment(part *gomail.Part, mediaType string, params, dispParams map[string]string) *Attachment {
	filename := ""
	if ah, ok := part.Header.(*gomail.AttachmentHeader); ok {
		filename, _ = ah.Filename()
	}
	filename = firstNonEmpty(filename, p.decodeHeader(dispParams["filename"]), p.decodeHeader(params["name"]), "attachment")
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	data, err := io.ReadAll(io.LimitReader(part.Body, p.attachmentLimit))
	if err != nil {
		p.logf("postmaster: read attachment %s failed: %v", filename, err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return &Attachment{Filename: filename, ContentType: mediaType, Data: data}
}

func (p *envelopeParser) readText(src io.Reader) string {
	if src == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(src, p.bodyLimit))
	if err != nil {
		p.logf("postmaster: read part body failed: %v", err)
	}
	return string(data)
}

func (p *envelopeParser) participants(h *gomail.Header, key string) []contacts.Participant {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return p.parseParticipants(h.Get(key))
	}
	out := make([]contacts.Participant, 0, len(list))
	for _, a := range list {
		out = appendParticipant(out, a.Name, a.Address)
	}
	return out
}

func (p *envelopeParser) parseParticipants(value string) []contacts.Participant {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if list, err := stdmail.ParseAddressList(value); err == nil {
		var out []contacts.Participant
		for _, a := range list {
			out = appendParticipant(out, a.Name, a.Address)
		}
		return out
	}
	var out []contacts.Participant
	for _, addr := range findAddresses(p.decodeHeader(value)) {
		out = appendParticipant(out, "", addr)
	}
	return out
}

// bccAddresses collects Bcc plus the envelope recipients MTAs record, since Bcc itself is
// usually stripped before delivery.
func (p *envelopeParser) bccAddresses(h *gomail.Header) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, key := range []string{"Bcc", "Delivered-To", "X-Original-To", "Envelope-To"} {
		for _, value := range h.Values(key) {
			for _, addr := range findAddresses(value) {
				if _, ok := seen[addr]; ok {
					continue
				}
				seen[addr] = struct{}{}
				out = append(out, addr)
			}
		}
	}
	return out
}

func (p *envelopeParser) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || p.decoder == nil {
		return value
	}
	decoded, err := p.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func appendParticipant(out []contacts.Participant, name, address string) []contacts.Participant {
	address = strings.ToLower(strings.TrimSpace(address))
	if !strings.Contains(address, "@") {
		return out
	}
	for _, p := range out {
		if p.Address == address {
			return out
		}
	}
	return append(out, contacts.Participant{Name: strings.TrimSpace(name), Address: address})
}

var addressPattern = regexp.MustCompile(`(?i)[a-z0-9!#$%&'*+/=?^_{|}~.-]+@[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)+`)

// findAddresses extracts lowercase addresses from free text.
func findAddresses(s string) []string {
	matches := addressPattern.FindAllString(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m))
	}
	return out
}

func addressesOf(ps []contacts.Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Address)
	}
	return out
}

func parseMediaType(value string) (string, map[string]string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", map[string]string{}
	}
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		if i := strings.Index(value, ";"); i >= 0 {
			value = value[:i]
		}
		return strings.ToLower(strings.TrimSpace(value)), map[string]string{}
	}
	return strings.ToLower(mediaType), params
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func limitBytes(b []byte, limit int64) []byte {
	if limit > 0 && int64(len(b)) > limit {
		return b[:limit]
	}
	return b
}
