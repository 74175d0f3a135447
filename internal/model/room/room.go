package room

import "time"

// Session captures one connected participant. A session exists from the
// moment the transport connects until it disconnects; room membership is
// optional and tracked by the registry.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	RoomCode  string    `json:"roomCode,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member is the wire form of a room participant. Member lists are always
// ordered by join time.
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}
