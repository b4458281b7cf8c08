package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB stores an arbitrary JSON object in a jsonb column.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported jsonb source type %T", value)
		}
		b = []byte(s)
	}
	return json.Unmarshal(b, j)
}

// ChatPart is one fragment of a Gemini chat turn.
type ChatPart struct {
	Text string `json:"text"`
}

// ChatTurn mirrors the Gemini content format: role is "user" or "model".
type ChatTurn struct {
	Role  string     `json:"role"`
	Parts []ChatPart `json:"parts"`
}

// ChatHistory is the full Gemini conversation for a case, persisted as a
// jsonb column so it survives across stateless requests.
type ChatHistory []ChatTurn

func (h ChatHistory) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal(ChatHistory{})
	}
	return json.Marshal(h)
}

func (h *ChatHistory) Scan(value interface{}) error {
	if value == nil {
		*h = ChatHistory{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported jsonb source type %T", value)
		}
		b = []byte(s)
	}
	return json.Unmarshal(b, h)
}
