package api

import "liveattend/internal/attendance"

// Request and response bodies shared with internal/client.

type RegisterRequest struct {
	ClientID string `json:"client_id"`
	Role     string `json:"role" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	ClientID     string `json:"client_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

type MarkRequest struct {
	StudentName string `json:"student_name"`
	Verified    bool   `json:"verified"`
}

type SessionResponse struct {
	Session *attendance.Session `json:"session"`
}

type RecordResponse struct {
	Record attendance.Record `json:"record"`
}

type RosterResponse struct {
	Records []attendance.Record `json:"records"`
}

// ActiveFrame is one websocket message of the active-session stream.
type ActiveFrame struct {
	Session  *attendance.Session `json:"session"`
	Degraded bool                `json:"degraded"`
	Error    string              `json:"error,omitempty"`
}

// RosterFrame is one websocket message of a roster stream.
type RosterFrame struct {
	Items    []attendance.Record `json:"items"`
	Degraded bool                `json:"degraded"`
	Error    string              `json:"error,omitempty"`
}
