// Package storage keeps the mock server's users, chats and messages in a
// pebble database.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

var ErrNotFound = errors.New("not found")

// Chat is the stored form of a conversation; summaries are derived per
// viewer.
type Chat struct {
	ID          string                  `json:"chat_id"`
	Kind        models.ConversationKind `json:"type"`
	Name        string                  `json:"name"`
	AvatarURL   string                  `json:"avatar_url,omitempty"`
	Description string                  `json:"description,omitempty"`
	Members     []string                `json:"members"`
	CreatedAt   int64                   `json:"created_at"`
	UpdatedAt   int64                   `json:"updated_at"`
}

func (c Chat) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type DB struct {
	db  *pebble.DB
	seq atomic.Uint64
	// serialises read-modify-write sequences
	mu sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	pdb, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &DB{db: pdb}, nil
}

func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *DB) getJSON(key string, v any) error {
	val, closer, err := d.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(val, v)
}

func (d *DB) getString(key string) (string, error) {
	val, closer, err := d.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	defer closer.Close()
	return string(val), nil
}

func setJSON(b *pebble.Batch, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set([]byte(key), raw, nil)
}

// scan calls fn for every key under prefix, in key order.
func (d *DB) scan(prefix string, fn func(key, val []byte) error) error {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Users

func (d *DB) PutUser(u models.Participant) error {
	if err := validID(u.UserID); err != nil {
		return err
	}
	b := d.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, fmt.Sprintf(UserKey, u.UserID), u); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (d *DB) User(id string) (models.Participant, error) {
	var u models.Participant
	err := d.getJSON(fmt.Sprintf(UserKey, id), &u)
	return u, err
}

func (d *DB) Users() ([]models.Participant, error) {
	var out []models.Participant
	err := d.scan(UserPrefix, func(_, val []byte) error {
		var u models.Participant
		if err := json.Unmarshal(val, &u); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

// SetUserStatus updates presence fields of a stored user.
func (d *DB) SetUserStatus(id string, status models.UserStatus, lastSeen int64) (models.Participant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := d.User(id)
	if err != nil {
		return u, err
	}
	u.Status = status
	if lastSeen > 0 {
		u.LastSeen = lastSeen
	}
	return u, d.PutUser(u)
}

// Chats

// PutChat stores c and its membership markers.
func (d *DB) PutChat(c Chat) error {
	if err := validID(c.ID); err != nil {
		return err
	}
	b := d.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, fmt.Sprintf(ChatKey, c.ID), c); err != nil {
		return err
	}
	for _, m := range c.Members {
		if err := validID(m); err != nil {
			return err
		}
		if err := b.Set([]byte(fmt.Sprintf(RelUserInChat, m, c.ID)), []byte("1"), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (d *DB) Chat(id string) (Chat, error) {
	var c Chat
	err := d.getJSON(fmt.Sprintf(ChatKey, id), &c)
	return c, err
}

// ChatsFor lists the chats userID is a member of, most recently updated
// first.
func (d *DB) ChatsFor(userID string) ([]Chat, error) {
	prefix := fmt.Sprintf(RelUserPrefix, userID)
	var ids []string
	if err := d.scan(prefix, func(key, _ []byte) error {
		ids = append(ids, string(key[len(prefix):]))
		return nil
	}); err != nil {
		return nil, err
	}
	out := make([]Chat, 0, len(ids))
	for _, id := range ids {
		c, err := d.Chat(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func (d *DB) touchChat(b *pebble.Batch, chatID string, at int64) error {
	c, err := d.Chat(chatID)
	if err != nil {
		return err
	}
	if at > c.UpdatedAt {
		c.UpdatedAt = at
	}
	return setJSON(b, fmt.Sprintf(ChatKey, c.ID), c)
}

// Messages

// AppendMessage stores m under its chat ordered by created_at.
func (d *DB) AppendMessage(m models.Message) error {
	if err := validID(m.ID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := msgKey(m.ConversationID, m.CreatedAt, d.seq.Add(1))
	b := d.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, key, m); err != nil {
		return err
	}
	if err := b.Set([]byte(fmt.Sprintf(MessageIndexKey, m.ID)), []byte(key), nil); err != nil {
		return err
	}
	if err := d.touchChat(b, m.ConversationID, m.CreatedAt); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (d *DB) messageKey(id string) (string, error) {
	return d.getString(fmt.Sprintf(MessageIndexKey, id))
}

func (d *DB) Message(id string) (models.Message, error) {
	var m models.Message
	key, err := d.messageKey(id)
	if err != nil {
		return m, err
	}
	err = d.getJSON(key, &m)
	return m, err
}

// UpdateMessage applies fn to the stored message and saves the result.
func (d *DB) UpdateMessage(id string, fn func(*models.Message) error) (models.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var m models.Message
	key, err := d.messageKey(id)
	if err != nil {
		return m, err
	}
	if err := d.getJSON(key, &m); err != nil {
		return m, err
	}
	if err := fn(&m); err != nil {
		return m, err
	}
	b := d.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, key, m); err != nil {
		return m, err
	}
	return m, b.Commit(pebble.Sync)
}

func (d *DB) DeleteMessage(id string) (models.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var m models.Message
	key, err := d.messageKey(id)
	if err != nil {
		return m, err
	}
	if err := d.getJSON(key, &m); err != nil {
		return m, err
	}
	b := d.db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(key), nil); err != nil {
		return m, err
	}
	if err := b.Delete([]byte(fmt.Sprintf(MessageIndexKey, id)), nil); err != nil {
		return m, err
	}
	return m, b.Commit(pebble.Sync)
}

// Messages returns the chat's messages oldest first.
func (d *DB) Messages(chatID string) ([]models.Message, error) {
	var out []models.Message
	err := d.scan(fmt.Sprintf(MessagePrefix, chatID), func(key, val []byte) error {
		var m models.Message
		if err := json.Unmarshal(val, &m); err != nil {
			logger.Warn("message_decode_failed", "key", string(key), "error", err)
			return nil
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// LastMessage returns the newest message of the chat, or nil.
func (d *DB) LastMessage(chatID string) (*models.Message, error) {
	prefix := fmt.Sprintf(MessagePrefix, chatID)
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	if !iter.Last() {
		return nil, iter.Error()
	}
	var m models.Message
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Read markers

func (d *DB) SetReadMarker(chatID, userID string, at int64) error {
	return d.db.Set([]byte(fmt.Sprintf(ReadMarkerKey, chatID, userID)), []byte(strconv.FormatInt(at, 10)), pebble.Sync)
}

func (d *DB) ReadMarker(chatID, userID string) (int64, error) {
	s, err := d.getString(fmt.Sprintf(ReadMarkerKey, chatID, userID))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// Unread counts messages from others created after the user's read marker.
func (d *DB) Unread(chatID, userID string) (int, error) {
	marker, err := d.ReadMarker(chatID, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	err = d.scan(fmt.Sprintf(MessagePrefix, chatID), func(key, val []byte) error {
		_, createdAt, err := parseMsgKey(string(key))
		if err != nil || createdAt <= marker {
			return nil
		}
		var m models.Message
		if json.Unmarshal(val, &m) == nil && m.SenderID != userID {
			n++
		}
		return nil
	})
	return n, err
}

// Empty reports whether no users have been stored yet.
func (d *DB) Empty() (bool, error) {
	empty := true
	err := d.scan(UserPrefix, func(_, _ []byte) error {
		empty = false
		return errStop
	})
	if errors.Is(err, errStop) {
		err = nil
	}
	return empty, err
}

var errStop = errors.New("stop")
