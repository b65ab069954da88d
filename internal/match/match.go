// Package match decides whether a hook fires for a message.
package match

import (
	"strings"

	"github.com/innovatingdev/mail2hooks/internal/email"
	"github.com/innovatingdev/mail2hooks/internal/hook"
)

// Reason says why a hook rejected a message.
type Reason string

const (
	ReasonNoRecipients   Reason = "no recipients"
	ReasonRecipient      Reason = "recipient mismatch"
	ReasonMissingSubject Reason = "subject required by body"
	ReasonMissingContent Reason = "content required by body"
	ReasonAccept         Reason = "accept pattern not satisfied"
	ReasonDeny           Reason = "deny pattern matched"
)

// Rejection is returned by Check when a hook does not fire.
type Rejection struct {
	Reason  Reason
	Pattern string
}

func (r *Rejection) Error() string {
	if r.Pattern != "" {
		return string(r.Reason) + ": " + r.Pattern
	}
	return string(r.Reason)
}

// Accept reports whether h fires for m.
func Accept(m *email.Message, h *hook.Hook) bool {
	return Check(m, h) == nil
}

// Check evaluates h against m and returns a *Rejection describing the first
// failed rule, or nil when the hook fires.
//
// An accept pattern rejects only when the subject and the text are both
// present and neither matches it. A message missing either field passes
// every accept pattern. A deny pattern rejects when it matches any present
// field.
func Check(m *email.Message, h *hook.Hook) error {
	if len(m.Recipients) == 0 {
		return &Rejection{Reason: ReasonNoRecipients}
	}
	if !strings.Contains(strings.ToLower(m.RecipientText()), strings.ToLower(h.Mailto)) {
		return &Rejection{Reason: ReasonRecipient}
	}

	if h.RequiresSubject && m.Subject == "" {
		return &Rejection{Reason: ReasonMissingSubject}
	}
	if h.RequiresContent && m.Text == "" {
		return &Rejection{Reason: ReasonMissingContent}
	}

	subject, text := m.Subject, m.Text

	for _, p := range h.Accept {
		subjectFails := subject != "" && !p.MatchString(subject)
		textFails := text != "" && !p.MatchString(text)
		if subjectFails && textFails {
			return &Rejection{Reason: ReasonAccept, Pattern: p.String()}
		}
	}

	for _, p := range h.Deny {
		if (subject != "" && p.MatchString(subject)) || (text != "" && p.MatchString(text)) {
			return &Rejection{Reason: ReasonDeny, Pattern: p.String()}
		}
	}

	return nil
}
