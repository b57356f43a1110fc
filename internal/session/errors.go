package session

import "errors"

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrSendTimeout     = errors.New("send timed out")
	ErrSessionRebound  = errors.New("session identity binds exactly once per connection")
	ErrOperatorSession = errors.New("operator sessions cannot bind a device identity")
)
