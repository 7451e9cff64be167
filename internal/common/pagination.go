package common

import (
	"net/http"
	"strconv"
	"strings"
)

// ParseLimit reads the limit query parameter, clamping it to max.
func ParseLimit(r *http.Request, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, BadRequest("limit", "limit must be a positive integer", err)
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit, nil
}
