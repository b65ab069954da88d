// Package sasllogin implements the server side of the obsolete SASL LOGIN
// mechanism, which go-sasl no longer ships. Some mail clients and devices
// still offer nothing else.
package sasllogin

import "github.com/emersion/go-sasl"

// Mechanism is the SASL name of the LOGIN mechanism.
const Mechanism = "LOGIN"

// Authenticator verifies a username and password.
type Authenticator func(username, password string) error

type state int

const (
	notStarted state = iota
	waitingUsername
	waitingPassword
	finished
)

type server struct {
	state        state
	username     string
	authenticate Authenticator
}

// NewServer returns a LOGIN server as described in
// https://tools.ietf.org/html/draft-murchison-sasl-login-00.
func NewServer(authenticate Authenticator) sasl.Server {
	return &server{authenticate: authenticate}
}

func (s *server) Next(response []byte) (challenge []byte, done bool, err error) {
	switch s.state {
	case notStarted:
		// An initial response carries the username.
		if response == nil {
			s.state = waitingUsername
			return []byte("Username:"), false, nil
		}
		fallthrough
	case waitingUsername:
		s.username = string(response)
		s.state = waitingPassword
		return []byte("Password:"), false, nil
	case waitingPassword:
		s.state = finished
		return nil, true, s.authenticate(s.username, string(response))
	default:
		return nil, false, sasl.ErrUnexpectedClientResponse
	}
}
