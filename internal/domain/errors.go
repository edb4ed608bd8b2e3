package domain

import "errors"

var (
	ErrEmptyUserID       = errors.New("user id empty")
	ErrUserIDTooLong     = errors.New("user id too long")
	ErrInvalidRole       = errors.New("invalid role")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotCallSession    = errors.New("session is not a call")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNoPushToken       = errors.New("no push token registered")
)
