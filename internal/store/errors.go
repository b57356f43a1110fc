package store

import "errors"

var (
	ErrOrgNotFound       = errors.New("organization not found")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrRoomNotFound      = errors.New("room not found")
	ErrSurveyNotFound    = errors.New("survey not found")
	ErrLaunchNotFound    = errors.New("launch not found")
	ErrDuplicateResponse = errors.New("device already responded to this launch")
	ErrClosed            = errors.New("store is closed")
)
