package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"neuroagent/internal/persistence"
)

// cursorWire is the JSON shape a Cursor round-trips through the opaque
// base64 string clients pass back as ?cursor=.
type cursorWire struct {
	SortValue time.Time `json:"t"`
	ID        uuid.UUID `json:"id"`
}

func encodeCursor(c persistence.Cursor) string {
	data, _ := json.Marshal(cursorWire{SortValue: c.SortValue, ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (*persistence.Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("httpapi: invalid cursor: %w", err)
	}
	var w cursorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("httpapi: invalid cursor: %w", err)
	}
	return &persistence.Cursor{SortValue: w.SortValue, ID: w.ID}, nil
}
