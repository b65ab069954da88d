// Package smtp implements the inbound SMTP endpoint: authentication, message
// reception and hand-off of parsed messages to the router.
package smtp

import (
	"crypto/subtle"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/innovatingdev/mail2hooks/internal/metrics"
	"github.com/innovatingdev/mail2hooks/internal/smtp/sasllogin"
)

// Default credentials used when none are configured.
const (
	DefaultUsername = "smtpuser"
	DefaultPassword = "smtppassword"
)

// Authenticator verifies SMTP AUTH credentials against one configured
// username and password.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator. Empty credentials fall back to
// DefaultUsername and DefaultPassword; authentication is never disabled.
func NewAuthenticator(username, password string) *Authenticator {
	if username == "" && password == "" {
		username, password = DefaultUsername, DefaultPassword
	}
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Verify checks username and password. A mismatch returns
// smtp.ErrAuthFailed and is counted as a failed login.
func (a *Authenticator) Verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		metrics.FailedLogins.Inc()
		return smtp.ErrAuthFailed
	}
	return nil
}

// mechanisms lists the SASL mechanisms offered to clients.
var mechanisms = []string{sasl.Plain, sasllogin.Mechanism}

// server returns a SASL server for mech. onSuccess is called with the
// authenticated username.
func (a *Authenticator) server(mech string, onSuccess func(username string)) (sasl.Server, error) {
	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(identity, username, password string) error {
			if identity != "" && identity != username {
				return smtp.ErrAuthFailed
			}
			if err := a.Verify(username, password); err != nil {
				return err
			}
			onSuccess(username)
			return nil
		}), nil
	case sasllogin.Mechanism:
		return sasllogin.NewServer(func(username, password string) error {
			if err := a.Verify(username, password); err != nil {
				return err
			}
			onSuccess(username)
			return nil
		}), nil
	default:
		return nil, &smtp.SMTPError{
			Code:         504,
			EnhancedCode: smtp.EnhancedCode{5, 7, 4},
			Message:      "Unsupported authentication mechanism",
		}
	}
}
