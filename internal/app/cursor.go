package app

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fieldqa/api/internal/store"
)

// Cursors are opaque to clients. The encoding pins the (created_at, id)
// log position; clients must not parse or fabricate them.

func encodeCursor(c store.Cursor) string {
	raw := fmt.Sprintf("v1:%d:%d", c.CreatedAt.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(encoded string) (store.Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return store.Cursor{}, fmt.Errorf("malformed cursor")
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] != "v1" {
		return store.Cursor{}, fmt.Errorf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return store.Cursor{}, fmt.Errorf("malformed cursor")
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return store.Cursor{}, fmt.Errorf("malformed cursor")
	}
	return store.Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}
