package models

import "time"

// PresenceRecord is the shared view of a user's presence mirrored to Redis.
type PresenceRecord struct {
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"` // online, offline
	LastSeen     time.Time `json:"last_seen"`
	ConnectionID string    `json:"connection_id,omitempty"`
}

type PresenceResponse struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type OnlineUsersResponse struct {
	Count   int      `json:"count"`
	Users   []string `json:"users"`
	Version uint64   `json:"version"`
}
