package protocol

import "errors"

var (
	ErrInvalidPayload  = errors.New("invalid event payload")
	ErrInvalidDeviceID = errors.New("device ID must be 1-253 characters, hostname charset only")
	ErrInvalidOrgID    = errors.New("org ID must be 1-100 characters")
	ErrInvalidStep     = errors.New("invalid survey step")
	ErrInvalidAnswer   = errors.New("answer does not match a survey question")
)
