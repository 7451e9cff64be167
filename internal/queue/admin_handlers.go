package queue

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/common"
)

// Inspector is the subset of *asynq.Inspector the admin endpoints use.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
	RunAllArchivedTasks(queue string) (int, error)
}

// AdminHandler exposes queue management endpoints for DLQ operations and metrics.
type AdminHandler struct {
	Inspector Inspector
	PageSize  int
	Logger    *zerolog.Logger
}

// ListDLQ returns archived tasks of a queue with pagination.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue inspector unavailable", nil)
		return
	}
	queue := queueParam(r)
	limit, page := parsePagination(r, h.pageSize())

	tasks, err := h.Inspector.ListArchivedTasks(queue, asynq.PageSize(limit), asynq.Page(page))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	info, err := h.Inspector.GetQueueInfo(queue)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	h.updateMetrics(info)

	items := make([]dlqItem, 0, len(tasks))
	for _, task := range tasks {
		item := dlqItem{
			ID:       task.ID,
			Kind:     task.Type,
			Attempts: task.Retried + 1,
			Payload:  rawPayload(task.Payload),
		}
		if task.LastErr != "" {
			lastErr := task.LastErr
			item.LastError = &lastErr
		}
		if !task.LastFailedAt.IsZero() {
			at := task.LastFailedAt.UTC()
			item.LastFailedAt = &at
		}
		items = append(items, item)
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"total": info.Archived,
		"queue": queue,
	})
}

// ReplayDLQ moves archived tasks back to pending, either by id list or all at once.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue inspector unavailable", nil)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	queue := queueLabel(strings.TrimSpace(req.Queue))
	ids := uniqueStrings(req.IDs)
	if len(ids) == 0 && !req.All {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or all required", nil)
		return
	}

	replayed := make([]string, 0, len(ids))
	failed := make(map[string]string)
	count := 0
	if req.All {
		n, err := h.Inspector.RunAllArchivedTasks(queue)
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
		count = n
	} else {
		for _, id := range ids {
			if err := h.Inspector.RunTask(queue, id); err != nil {
				failed[id] = err.Error()
				continue
			}
			replayed = append(replayed, id)
		}
		count = len(replayed)
	}
	if info, err := h.Inspector.GetQueueInfo(queue); err == nil {
		h.updateMetrics(info)
	}
	if h.Logger != nil {
		h.Logger.Info().Str("queue", queue).Int("replayed", count).Int("failed", len(failed)).Msg("dlq replay")
	}

	resp := map[string]any{
		"replayed": replayed,
		"count":    count,
	}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// Stats returns pending, active, retry and archived counts for a queue.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue inspector unavailable", nil)
		return
	}
	queue := queueParam(r)
	info, err := h.Inspector.GetQueueInfo(queue)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	h.updateMetrics(info)
	common.JSON(w, http.StatusOK, map[string]any{
		"queue":         queue,
		"pending":       info.Pending,
		"active":        info.Active,
		"scheduled":     info.Scheduled,
		"retry":         info.Retry,
		"dlq":           info.Archived,
		"processed":     info.Processed,
		"failed":        info.Failed,
		"oldest_lag_ms": info.Latency.Milliseconds(),
		"paused":        info.Paused,
	})
}

func (h *AdminHandler) updateMetrics(info *asynq.QueueInfo) {
	if info == nil {
		return
	}
	Depth.WithLabelValues(queueLabel(info.Queue)).Set(float64(info.Pending))
	DLQSize.WithLabelValues(queueLabel(info.Queue)).Set(float64(info.Archived))
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func queueParam(r *http.Request) string {
	return queueLabel(strings.TrimSpace(r.URL.Query().Get("queue")))
}

func parsePagination(r *http.Request, defaultLimit int) (limit, page int) {
	limit = defaultLimit
	page = 1
	if limit <= 0 {
		limit = 50
	}
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("page")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			page = parsed
		}
	}
	return
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

func rawPayload(b []byte) json.RawMessage {
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

type dlqItem struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Attempts     int             `json:"attempts"`
	LastError    *string         `json:"lastError,omitempty"`
	LastFailedAt *time.Time      `json:"lastFailedAt,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	All   bool     `json:"all"`
	Queue string   `json:"queue"`
}
