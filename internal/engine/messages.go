package engine

import "encoding/json"

const (
	TypeJoin   = "join"
	TypeLeave  = "leave"
	TypeCursor = "cursor"
	TypeEdit   = "edit"

	TypePresence = "presence"
	TypeContent  = "content"
	TypeResync   = "resync"
	TypeError    = "error"
)

const defaultUsername = "guest"

// Envelope is the frame every realtime message travels in, in both
// directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinRequest struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type LeaveRequest struct {
	Token string `json:"token"`
}

type CursorRequest struct {
	Token    string `json:"token"`
	Index    int    `json:"index"`
	Username string `json:"username"`
}

type EditRequest struct {
	Token       string `json:"token"`
	Content     string `json:"content"`
	BaseVersion int    `json:"base_version"`
	Username    string `json:"username"`
}

type PresencePayload struct {
	Users []string `json:"users"`
}

type CursorPayload struct {
	Index int    `json:"index"`
	User  string `json:"user"`
}

type ContentPayload struct {
	Content string `json:"content"`
	Version int    `json:"version"`
	Editor  string `json:"editor"`
}

type ResyncPayload struct {
	Content string `json:"content"`
	Version int    `json:"version"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error codes carried in error frames.
const (
	CodeInvalidToken    = "invalid_token"
	CodeForbidden       = "forbidden"
	CodeDocumentMissing = "document_missing"
	CodeMalformed       = "malformed"
	CodeInternal        = "internal"
	CodeRateLimited     = "rate_limited"
)

func encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

func displayName(name string) string {
	if name == "" {
		return defaultUsername
	}
	return name
}
