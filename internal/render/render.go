// Package render builds the outbound request body of a hook.
package render

import (
	"strings"

	"github.com/innovatingdev/mail2hooks/internal/email"
	"github.com/innovatingdev/mail2hooks/internal/hook"
)

// Render returns the request body for delivering m to h.
//
// Subject and text are trimmed, then every replace entry is applied to both
// in declared order, each one seeing the output of the previous. The first
// %%SUBJECT%% in the body is then replaced with the subject and the first
// %%CONTENT%% with the text. Further occurrences of a token are left as is,
// and so is a token whose field is empty. Values are inserted literally
// without any escaping for the body's format.
func Render(m *email.Message, h *hook.Hook) string {
	subject := strings.TrimSpace(m.Subject)
	text := strings.TrimSpace(m.Text)

	for _, r := range h.Replace {
		if subject != "" {
			subject = r.Apply(subject)
		}
		if text != "" {
			text = r.Apply(text)
		}
	}

	body := h.Body
	if subject != "" {
		body = strings.Replace(body, hook.SubjectToken, subject, 1)
	}
	if text != "" {
		body = strings.Replace(body, hook.ContentToken, text, 1)
	}
	return body
}
