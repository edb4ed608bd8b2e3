package domain

// Presence is a read-only view of one user's live connections.
// Liveness is not inferred from it; it only mirrors the routing table.
type Presence struct {
	UserID      UserID `json:"userId"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}
