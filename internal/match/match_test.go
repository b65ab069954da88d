package match

import (
	"errors"
	"testing"

	"github.com/innovatingdev/mail2hooks/internal/email"
	"github.com/innovatingdev/mail2hooks/internal/hook"
)

func mustHook(t *testing.T, d hook.Definition) *hook.Hook {
	t.Helper()
	if d.Target == "" {
		d.Target = "http://hooks.example.com/"
	}
	if d.Body.IsZero() {
		d.Body = hook.TextBody("static")
	}
	h, err := hook.Compile(0, d)
	if err != nil {
		t.Fatalf("compile hook: %v", err)
	}
	return h
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		def    hook.Definition
		msg    email.Message
		reason Reason
	}{
		{
			name: "recipient substring matches case-insensitively",
			def:  hook.Definition{Mailto: "OPS@Example.com"},
			msg:  email.Message{Recipients: []string{"Ops Team <ops@example.COM>"}},
		},
		{
			name:   "recipient not in To text",
			def:    hook.Definition{Mailto: "ops@example.com"},
			msg:    email.Message{Recipients: []string{"dev@example.com"}, Subject: "x"},
			reason: ReasonRecipient,
		},
		{
			name:   "no recipients",
			def:    hook.Definition{Mailto: "ops@example.com"},
			msg:    email.Message{Subject: "x"},
			reason: ReasonNoRecipients,
		},
		{
			name: "recipient found in second To field",
			def:  hook.Definition{Mailto: "ops@example.com"},
			msg:  email.Message{Recipients: []string{"dev@example.com", "ops@example.com"}},
		},
		{
			name:   "subject token requires subject",
			def:    hook.Definition{Mailto: "ops", Body: hook.TextBody("%%SUBJECT%%")},
			msg:    email.Message{Recipients: []string{"ops@x"}, Text: "body"},
			reason: ReasonMissingSubject,
		},
		{
			name:   "content token requires text",
			def:    hook.Definition{Mailto: "ops", Body: hook.TextBody("%%CONTENT%%")},
			msg:    email.Message{Recipients: []string{"ops@x"}, Subject: "s"},
			reason: ReasonMissingContent,
		},
		{
			name: "accept passes on subject when text absent",
			def:  hook.Definition{Mailto: "ops", Accept: []string{"foo"}},
			msg:  email.Message{Recipients: []string{"ops@x"}, Subject: "foo bar"},
		},
		{
			name: "accept never rejects with subject only even on mismatch",
			def:  hook.Definition{Mailto: "ops", Accept: []string{"foo"}},
			msg:  email.Message{Recipients: []string{"ops@x"}, Subject: "nothing here"},
		},
		{
			name: "accept never rejects with text only even on mismatch",
			def:  hook.Definition{Mailto: "ops", Accept: []string{"foo"}},
			msg:  email.Message{Recipients: []string{"ops@x"}, Text: "nothing here"},
		},
		{
			name: "accept passes when only text matches",
			def:  hook.Definition{Mailto: "ops", Accept: []string{"foo"}},
			msg:  email.Message{Recipients: []string{"ops@x"}, Subject: "alert", Text: "foo"},
		},
		{
			name:   "accept rejects when both fields present and fail",
			def:    hook.Definition{Mailto: "ops", Accept: []string{"foo"}},
			msg:    email.Message{Recipients: []string{"ops@x"}, Subject: "alert", Text: "body"},
			reason: ReasonAccept,
		},
		{
			name:   "every accept pattern is evaluated",
			def:    hook.Definition{Mailto: "ops", Accept: []string{"alert", "^prod"}},
			msg:    email.Message{Recipients: []string{"ops@x"}, Subject: "alert", Text: "staging down"},
			reason: ReasonAccept,
		},
		{
			name:   "accept is case-sensitive",
			def:    hook.Definition{Mailto: "ops", Accept: []string{"ALERT"}},
			msg:    email.Message{Recipients: []string{"ops@x"}, Subject: "alert", Text: "alert"},
			reason: ReasonAccept,
		},
		{
			name:   "deny matches subject",
			def:    hook.Definition{Mailto: "ops", Deny: []string{"secret"}},
			msg:    email.Message{Recipients: []string{"ops@x"}, Subject: "it's a secret"},
			reason: ReasonDeny,
		},
		{
			name:   "deny matches text",
			def:    hook.Definition{Mailto: "ops", Deny: []string{"secret"}},
			msg:    email.Message{Recipients: []string{"ops@x"}, Subject: "hello", Text: "the secret"},
			reason: ReasonDeny,
		},
		{
			name:   "deny wins over satisfied accept",
			def:    hook.Definition{Mailto: "ops", Accept: []string{"secret"}, Deny: []string{"secret"}},
			msg:    email.Message{Recipients: []string{"ops@x"}, Subject: "it's a secret", Text: "secret"},
			reason: ReasonDeny,
		},
		{
			name: "deny not matched",
			def:  hook.Definition{Mailto: "ops", Deny: []string{"secret"}},
			msg:  email.Message{Recipients: []string{"ops@x"}, Subject: "public", Text: "news"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := mustHook(t, tt.def)
			err := Check(&tt.msg, h)

			if tt.reason == "" {
				if err != nil {
					t.Fatalf("Check: got %v, want accepted", err)
				}
				if !Accept(&tt.msg, h) {
					t.Error("Accept: got false, want true")
				}
				return
			}

			var rej *Rejection
			if !errors.As(err, &rej) {
				t.Fatalf("Check: got %v, want *Rejection", err)
			}
			if rej.Reason != tt.reason {
				t.Errorf("Reason: got %q, want %q", rej.Reason, tt.reason)
			}
			if Accept(&tt.msg, h) {
				t.Error("Accept: got true, want false")
			}
		})
	}
}

func TestCheck_SubjectTokenAlwaysNeedsSubject(t *testing.T) {
	t.Parallel()

	h := mustHook(t, hook.Definition{
		Mailto: "ops",
		Body:   hook.TextBody(`{"t":"%%SUBJECT%%"}`),
	})

	for _, text := range []string{"", "body", "foo"} {
		m := &email.Message{Recipients: []string{"ops@x"}, Text: text}
		if Accept(m, h) {
			t.Errorf("text %q: accepted without subject", text)
		}
	}
}

func TestRejection_Error(t *testing.T) {
	t.Parallel()

	err := &Rejection{Reason: ReasonDeny, Pattern: "secret"}
	if got := err.Error(); got != "deny pattern matched: secret" {
		t.Errorf("Error(): got %q", got)
	}
	err = &Rejection{Reason: ReasonRecipient}
	if got := err.Error(); got != "recipient mismatch" {
		t.Errorf("Error(): got %q", got)
	}
}
