package registry

import "errors"

var ErrNilSession = errors.New("session cannot be nil")
