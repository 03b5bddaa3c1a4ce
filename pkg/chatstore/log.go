package chatstore

import (
	"sort"

	"chatsync/pkg/models"
)

func indexOf(log []models.Message, id string) int {
	if id == "" {
		return -1
	}
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].ID == id {
			return i
		}
	}
	return -1
}

// insertSorted places m after every entry with createdAt <= m.CreatedAt.
func insertSorted(log []models.Message, m models.Message) ([]models.Message, int) {
	i := sort.Search(len(log), func(i int) bool { return log[i].CreatedAt > m.CreatedAt })
	log = append(log, models.Message{})
	copy(log[i+1:], log[i:])
	log[i] = m
	return log, i
}

func removeAt(log []models.Message, i int) []models.Message {
	copy(log[i:], log[i+1:])
	log[len(log)-1] = models.Message{}
	return log[:len(log)-1]
}

// replaceAt overwrites log[i] and moves it only if its neighbours no longer
// bracket its createdAt.
func replaceAt(log []models.Message, i int, m models.Message) ([]models.Message, int) {
	inOrder := (i == 0 || log[i-1].CreatedAt <= m.CreatedAt) &&
		(i == len(log)-1 || m.CreatedAt <= log[i+1].CreatedAt)
	if inOrder {
		log[i] = m
		return log, i
	}
	log = removeAt(log, i)
	return insertSorted(log, m)
}

// mergeMessage folds an incoming copy of a message into the recorded one.
// Status never regresses and a newer edit is never overwritten by an older
// delivery.
func mergeMessage(cur, in models.Message) models.Message {
	out := in
	out.Status = models.LaterStatus(cur.Status, in.Status)
	if cur.EditedAt > in.EditedAt {
		out.Content = cur.Content
		out.EditedAt = cur.EditedAt
	}
	if out.SenderName == "" {
		out.SenderName = cur.SenderName
	}
	if out.SenderAvatar == "" {
		out.SenderAvatar = cur.SenderAvatar
	}
	if out.Type == "" {
		out.Type = cur.Type
	}
	if out.ReplyTo == "" {
		out.ReplyTo = cur.ReplyTo
	}
	if out.CreatedAt == 0 {
		out.CreatedAt = cur.CreatedAt
	}
	return out
}
