package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/innovatingdev/mail2hooks/internal/email"
)

// mockDispatcher collects dispatched messages.
type mockDispatcher struct {
	msgs chan *email.Message
}

func (m *mockDispatcher) Dispatch(_ context.Context, msg *email.Message) {
	m.msgs <- msg
}

// startServer runs a Server on a random local port until the test ends.
func startServer(t *testing.T, cfg ServerConfig) (addr string, d *mockDispatcher) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	d = &mockDispatcher{msgs: make(chan *email.Message, 4)}
	cfg.Dispatcher = d
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String(), d
}

func dial(t *testing.T, addr string) *smtp.Client {
	t.Helper()
	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Hello("client.example.com"); err != nil {
		t.Fatalf("EHLO: %v", err)
	}
	return c
}

func sendData(t *testing.T, c *smtp.Client, raw string) error {
	t.Helper()
	w, err := c.Data()
	if err != nil {
		t.Fatalf("DATA: %v", err)
	}
	if _, err := io.WriteString(w, raw); err != nil {
		t.Fatalf("write body: %v", err)
	}
	return w.Close()
}

func waitMessage(t *testing.T, d *mockDispatcher) *email.Message {
	t.Helper()
	select {
	case msg := <-d.msgs:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
		return nil
	}
}

func smtpCode(err error) int {
	var serr *smtp.SMTPError
	if errors.As(err, &serr) {
		return serr.Code
	}
	return 0
}

const alertMessage = "From: monitor@example.com\r\n" +
	"To: Ops <ops@example.com>\r\n" +
	"Subject: Alert\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Disk is full\r\n"

func TestSession_DeliversParsedMessage(t *testing.T) {
	t.Parallel()

	addr, d := startServer(t, ServerConfig{Username: "testuser", Password: "testpass"})
	c := dial(t, addr)

	if err := c.Auth(sasl.NewPlainClient("", "testuser", "testpass")); err != nil {
		t.Fatalf("AUTH: %v", err)
	}
	if err := c.Mail("monitor@example.com", nil); err != nil {
		t.Fatalf("MAIL: %v", err)
	}
	if err := c.Rcpt("relay@example.com", nil); err != nil {
		t.Fatalf("RCPT: %v", err)
	}
	if err := sendData(t, c, alertMessage); err != nil {
		t.Fatalf("DATA close: %v", err)
	}

	msg := waitMessage(t, d)
	if msg.Subject != "Alert" {
		t.Errorf("Subject: got %q, want Alert", msg.Subject)
	}
	if len(msg.Recipients) != 1 || msg.Recipients[0] != "Ops <ops@example.com>" {
		t.Errorf("Recipients: got %q", msg.Recipients)
	}
	if len(msg.EnvelopeRecipients) != 1 || msg.EnvelopeRecipients[0] != "relay@example.com" {
		t.Errorf("EnvelopeRecipients: got %q", msg.EnvelopeRecipients)
	}
	if strings.TrimSpace(msg.Text) != "Disk is full" {
		t.Errorf("Text: got %q", msg.Text)
	}
	if msg.ID == "" {
		t.Error("message ID is empty")
	}

	if err := c.Quit(); err != nil {
		t.Errorf("QUIT: %v", err)
	}
}

func TestSession_LoginMechanism(t *testing.T) {
	t.Parallel()

	addr, d := startServer(t, ServerConfig{})
	c := dial(t, addr)

	if err := c.Auth(sasl.NewLoginClient(DefaultUsername, DefaultPassword)); err != nil {
		t.Fatalf("AUTH LOGIN: %v", err)
	}
	if err := c.Mail("a@example.com", nil); err != nil {
		t.Fatalf("MAIL: %v", err)
	}
	if err := c.Rcpt("b@example.com", nil); err != nil {
		t.Fatalf("RCPT: %v", err)
	}
	if err := sendData(t, c, alertMessage); err != nil {
		t.Fatalf("DATA close: %v", err)
	}
	waitMessage(t, d)
}

func TestSession_MailRequiresAuth(t *testing.T) {
	t.Parallel()

	addr, d := startServer(t, ServerConfig{})
	c := dial(t, addr)

	err := c.Mail("a@example.com", nil)
	if err == nil {
		t.Fatal("expected MAIL to fail before AUTH")
	}
	if got, want := smtpCode(err), smtp.ErrAuthRequired.Code; got != want {
		t.Errorf("code: got %d, want %d (%v)", got, want, err)
	}

	select {
	case msg := <-d.msgs:
		t.Errorf("unexpected dispatch: %+v", msg)
	default:
	}
}

func TestSession_BadCredentials(t *testing.T) {
	t.Parallel()

	addr, _ := startServer(t, ServerConfig{Username: "testuser", Password: "testpass"})
	c := dial(t, addr)

	err := c.Auth(sasl.NewPlainClient("", "testuser", "wrong"))
	if err == nil {
		t.Fatal("expected AUTH to fail")
	}
	if got, want := smtpCode(err), smtp.ErrAuthFailed.Code; got != want {
		t.Errorf("code: got %d, want %d (%v)", got, want, err)
	}

	if err := c.Mail("a@example.com", nil); err == nil {
		t.Error("MAIL succeeded after failed AUTH")
	}
}

func TestSession_UnparseableMessageRejected(t *testing.T) {
	t.Parallel()

	addr, d := startServer(t, ServerConfig{})
	c := dial(t, addr)

	if err := c.Auth(sasl.NewPlainClient("", DefaultUsername, DefaultPassword)); err != nil {
		t.Fatalf("AUTH: %v", err)
	}
	if err := c.Mail("a@example.com", nil); err != nil {
		t.Fatalf("MAIL: %v", err)
	}
	if err := c.Rcpt("b@example.com", nil); err != nil {
		t.Fatalf("RCPT: %v", err)
	}

	err := sendData(t, c, "this line has no colon\r\n\r\nbody\r\n")
	if got := smtpCode(err); got != 550 {
		t.Errorf("code: got %d, want 550 (%v)", got, err)
	}

	select {
	case msg := <-d.msgs:
		t.Errorf("unexpected dispatch: %+v", msg)
	default:
	}

	// The session survives a rejected message.
	if err := c.Mail("a@example.com", nil); err != nil {
		t.Fatalf("MAIL after rejection: %v", err)
	}
	if err := c.Rcpt("b@example.com", nil); err != nil {
		t.Fatalf("RCPT after rejection: %v", err)
	}
	if err := sendData(t, c, alertMessage); err != nil {
		t.Fatalf("DATA after rejection: %v", err)
	}
	waitMessage(t, d)
}

func TestSession_MessageTooLarge(t *testing.T) {
	t.Parallel()

	addr, d := startServer(t, ServerConfig{MaxMessageBytes: 256})
	c := dial(t, addr)

	if err := c.Auth(sasl.NewPlainClient("", DefaultUsername, DefaultPassword)); err != nil {
		t.Fatalf("AUTH: %v", err)
	}
	if err := c.Mail("a@example.com", nil); err != nil {
		t.Fatalf("MAIL: %v", err)
	}
	if err := c.Rcpt("b@example.com", nil); err != nil {
		t.Fatalf("RCPT: %v", err)
	}

	big := alertMessage + strings.Repeat("x", 1024) + "\r\n"
	if err := sendData(t, c, big); err == nil {
		t.Error("expected oversized message to be rejected")
	}

	select {
	case msg := <-d.msgs:
		t.Errorf("unexpected dispatch: %+v", msg)
	default:
	}
}

func TestServer_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	srv := New(ServerConfig{
		Dispatcher: &mockDispatcher{msgs: make(chan *email.Message, 1)},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	// Wait until the server answers before stopping it.
	c, err := smtp.Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	if err := c.Hello("client.example.com"); err != nil {
		t.Fatalf("EHLO: %v", err)
	}
	c.Quit()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve: got %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
