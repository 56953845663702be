package models

import "errors"

var (
	ErrConfigurationRejected = errors.New("configuration rejected")
	ErrUnsupportedAction     = errors.New("action not supported for detector")
	ErrUnknownDetector       = errors.New("unknown detector type")
	ErrNotActive             = errors.New("detector not active")
	ErrExternalActionFailed  = errors.New("external action failed")
)
