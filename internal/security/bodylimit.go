package security

import (
	"net/http"

	"github.com/noah-isme/toko-pos/internal/common"
)

// BodyLimit caps request payloads. Declared oversize bodies are refused up
// front; undeclared ones fail when the handler reads past Max, which
// common.DecodeJSON reports as 413.
type BodyLimit struct {
	Max int64
}

// Middleware wraps the request body in http.MaxBytesReader.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
			return
		}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		}
		next.ServeHTTP(w, r)
	})
}
