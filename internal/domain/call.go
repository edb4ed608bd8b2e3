package domain

import "time"

// IncomingCall summarises a ringing session for the callee.
type IncomingCall struct {
	SessionID     SessionID
	CallerID      UserID
	CallerName    string
	CallerType    Role
	CallType      string
	Recipient     UserID
	RecipientRole Role
	At            time.Time
}

// DefaultCallerName is used when initiate_call carries no name.
const DefaultCallerName = "Unknown"
