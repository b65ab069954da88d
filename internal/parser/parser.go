// Package parser turns raw RFC 5322 messages into email.Message values.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/innovatingdev/mail2hooks/internal/email"
)

// Error reports a message that could not be structurally parsed.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to parse message: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Parse parses a raw message into an email.Message. Transfer encodings and
// charsets are decoded. The first text/plain part becomes the text body; if
// there is none, the text body is derived from the first text/html part.
// Attachments are skipped.
func Parse(raw []byte) (*email.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &Error{Err: err}
	}
	if err != nil {
		slog.Warn("unknown charset in message header", "error", err)
	}
	defer mr.Close()

	msg := &email.Message{
		ID:         uuid.NewString(),
		From:       parseFrom(&mr.Header),
		Recipients: headerTexts(&mr.Header, "To"),
	}

	subject, err := mr.Header.Subject()
	if err != nil {
		slog.Warn("failed to decode subject, using raw value", "error", err)
		subject = mr.Header.Get("Subject")
	}
	msg.Subject = subject

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, &Error{Err: err}
		}
		if err != nil {
			slog.Warn("unknown charset in message part", "error", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		switch contentType(h) {
		case "text/plain":
			if msg.Text != "" {
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, &Error{Err: fmt.Errorf("read text part: %w", err)}
			}
			msg.Text = string(body)
		case "text/html":
			if msg.HTML != "" {
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, &Error{Err: fmt.Errorf("read html part: %w", err)}
			}
			msg.HTML = string(body)
		}
	}

	if msg.Text == "" && msg.HTML != "" {
		msg.Text = htmlToText(msg.HTML)
	}

	return msg, nil
}

// contentType returns the media type of an inline part. Parts without a
// usable Content-Type are plain text (RFC 2045 section 5.2).
func contentType(h *mail.InlineHeader) string {
	if !h.Has("Content-Type") {
		return "text/plain"
	}
	t, _, err := h.ContentType()
	if err != nil {
		return "text/plain"
	}
	return strings.ToLower(t)
}

func parseFrom(h *mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return h.Get("From")
}

// headerTexts returns the decoded value of every field named key, in order.
func headerTexts(h *mail.Header, key string) []string {
	var values []string
	fields := h.FieldsByKey(key)
	for fields.Next() {
		v, err := fields.Text()
		if err != nil {
			v = fields.Value()
		}
		v = strings.TrimSpace(v)
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}
