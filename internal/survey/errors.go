package survey

import "errors"

var (
	ErrInvalidTransition = errors.New("launch state does not permit this transition")
	ErrNoTargets         = errors.New("launch requires at least one target device")
)
