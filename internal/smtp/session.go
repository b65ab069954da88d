package smtp

import (
	"context"
	"io"
	"log/slog"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/innovatingdev/mail2hooks/internal/email"
	"github.com/innovatingdev/mail2hooks/internal/metrics"
	"github.com/innovatingdev/mail2hooks/internal/parser"
)

// Dispatcher receives every successfully parsed message. Dispatch must not
// block on webhook delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *email.Message)
}

// backend creates one Session per SMTP connection.
type backend struct {
	auth       *Authenticator
	dispatcher Dispatcher
	logger     *slog.Logger
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	log := b.logger.With("remote", c.Conn().RemoteAddr().String())
	log.Info("client connected")
	return &Session{
		auth:       b.auth,
		dispatcher: b.dispatcher,
		log:        log,
	}, nil
}

// Session is the state of one SMTP connection.
type Session struct {
	auth       *Authenticator
	dispatcher Dispatcher
	log        *slog.Logger

	username string

	// Current transaction
	from  string
	rcpts []string
}

var _ smtp.AuthSession = (*Session)(nil)

// AuthMechanisms returns the SASL mechanisms advertised in EHLO.
func (s *Session) AuthMechanisms() []string {
	return mechanisms
}

// Auth starts a SASL exchange for mech.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	return s.auth.server(mech, func(username string) {
		s.username = username
		s.log.Info("client authenticated", "user", username, "mechanism", mech)
	})
}

// Mail starts a transaction. It fails until the client has authenticated.
func (s *Session) Mail(from string, _ *smtp.MailOptions) error {
	if s.username == "" {
		s.log.Warn("MAIL FROM before authentication", "from", from)
		return smtp.ErrAuthRequired
	}
	s.log.Info("MAIL FROM", "from", from)
	s.from = from
	return nil
}

// Rcpt records an envelope recipient. Envelope recipients never affect which
// hooks fire.
func (s *Session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.log.Info("RCPT TO", "to", to)
	s.rcpts = append(s.rcpts, to)
	return nil
}

// Data reads and parses the message and hands it to the dispatcher. The
// reply is sent without waiting for any webhook.
func (s *Session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.log.Error("error reading DATA", "error", err)
		return err
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		metrics.Messages.WithLabelValues("parse_error").Inc()
		s.log.Error("failed to parse message", "error", err)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be parsed",
		}
	}
	msg.EnvelopeRecipients = append([]string(nil), s.rcpts...)

	metrics.Messages.WithLabelValues("accepted").Inc()
	s.log.Info("message received",
		"message_id", msg.ID,
		"from", msg.From,
		"recipients", msg.Recipients,
		"subject", msg.Subject,
		"size", len(raw),
	)

	s.dispatcher.Dispatch(context.Background(), msg)
	return nil
}

// Reset discards the current transaction. Authentication is kept.
func (s *Session) Reset() {
	s.from = ""
	s.rcpts = nil
}

// Logout is called when the connection closes.
func (s *Session) Logout() error {
	s.log.Info("client disconnected")
	return nil
}
