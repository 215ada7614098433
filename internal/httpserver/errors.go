package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"chatdispatch/internal/domain"
)

const (
	ErrInvalidJSON = "invalid json"
	ErrMissingID   = "missing id"
	ErrDependency  = "dependency error"
	ErrNotFound    = "not found"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMissingFields),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidDelay),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrNoContacts):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrNoPendingContacts),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrSessionNotConnected):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoEligibleSender):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// writeError maps domain errors to a status. Unknown errors are logged and
// reported as a dependency failure.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusOf(err)
	if status == http.StatusBadGateway {
		slog.Error(op+" failed", "err", err, "path", r.URL.Path)
		http.Error(w, ErrDependency, status)
		return
	}
	http.Error(w, err.Error(), status)
}
