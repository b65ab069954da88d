// Package email defines the inbound message model shared by the parser,
// the SMTP endpoint and the hook engine.
package email

import "strings"

// Message is the structured form of one inbound mail. It is created once per
// accepted DATA transaction and never modified afterwards.
//
// Subject and Text are empty when the mail has no subject or no plain-text
// body; an empty value is treated as absent everywhere.
type Message struct {
	// ID identifies the message in logs. It is not derived from the mail.
	ID string

	From string

	// Recipients holds the decoded value of every To header field, as written
	// by the sender. Individual mailboxes are not split out.
	Recipients []string

	// EnvelopeRecipients are the RCPT TO addresses of the SMTP transaction.
	// They are informational only and never take part in hook matching.
	EnvelopeRecipients []string

	Subject string
	Text    string
	HTML    string
}

// RecipientText returns the recipient header values joined into the single
// string hooks are matched against.
func (m *Message) RecipientText() string {
	return strings.Join(m.Recipients, ", ")
}
