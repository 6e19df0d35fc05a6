package plan

import (
	"encoding/base64"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/regentdb/regent"
)

// Cursor anchors cursor pagination on a unique key value. Tokens are opaque
// to callers: msgpack-encoded and base64url-wrapped so they survive query
// strings and logs unchanged.
type Cursor struct {
	Field string `msgpack:"f"`
	Value any    `msgpack:"v"`
}

// EncodeCursor returns the opaque token for a unique field/value anchor.
func EncodeCursor(field string, value any) (string, error) {
	raw, err := msgpack.Marshal(&Cursor{Field: field, Value: value})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses an opaque cursor token.
func DecodeCursor(entity, token string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, regent.NewPlanError(entity, regent.ErrInvalidCursor, "malformed token")
	}
	var c Cursor
	if err := msgpack.Unmarshal(raw, &c); err != nil {
		return nil, regent.NewPlanError(entity, regent.ErrInvalidCursor, "malformed token")
	}
	if c.Field == "" {
		return nil, regent.NewPlanError(entity, regent.ErrInvalidCursor, "missing anchor field")
	}
	return &c, nil
}
