package storage

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// notation:
	// u   = user
	// c   = chat
	// m   = message
	// idx = index
	// rel = relationship marker
	// rd  = read marker
	// segments are separated by ":"; ids may not contain ":"

	UserKey         = "u:%s"              // u:<user_id>
	ChatKey         = "c:%s"              // c:<chat_id>
	MessageKey      = "c:%s:m:%020d:%06d" // c:<chat_id>:m:<created_ms>:<seq>
	MessagePrefix   = "c:%s:m:"           // c:<chat_id>:m:
	MessageIndexKey = "idx:m:%s"          // idx:m:<message_id> -> message key
	RelUserInChat   = "rel:u:%s:c:%s"     // rel:u:<user_id>:c:<chat_id>
	RelUserPrefix   = "rel:u:%s:c:"       // rel:u:<user_id>:c:
	ReadMarkerKey   = "rd:c:%s:u:%s"      // rd:c:<chat_id>:u:<user_id>

	UserPrefix = "u:"
)

func validID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id")
	}
	if strings.Contains(id, ":") {
		return fmt.Errorf("id %q contains ':'", id)
	}
	return nil
}

func msgKey(chatID string, createdAt int64, seq uint64) string {
	return fmt.Sprintf(MessageKey, chatID, createdAt, seq%1000000)
}

// parseMsgKey splits c:<chat_id>:m:<created_ms>:<seq>.
func parseMsgKey(key string) (chatID string, createdAt int64, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "c" || parts[2] != "m" {
		return "", 0, fmt.Errorf("invalid message key: %s", key)
	}
	createdAt, err = parsePadded(parts[3])
	if err != nil {
		return "", 0, fmt.Errorf("invalid message key %s: %w", key, err)
	}
	return parts[1], createdAt, nil
}

func parsePadded(s string) (int64, error) {
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseInt(trimmed, 10, 64)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}
