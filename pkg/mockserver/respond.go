package mockserver

import (
	"encoding/json"
	"net/http"
	"time"

	"chatsync/pkg/models"
)

func writeData(w http.ResponseWriter, status int, data any) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "marshal failed")
			return
		}
		raw = b
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIResponse{
		Code:      status,
		Message:   "success",
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIResponse{
		Code:      status,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// paginate slices items for page (1-based) and limit.
func paginate[T any](items []T, page, limit int) models.Page[T] {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	total := len(items)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return models.Page[T]{Items: out, Pagination: models.Pagination{Page: page, Limit: limit, Total: total}}
}
