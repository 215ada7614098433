package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatdispatch/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

func New() *Server {
	r := mux.NewRouter()
	r.Use(Metrics(observability.APIRequests))
	return &Server{Mux: r}
}

// Handler wraps the router with access logging.
func (s *Server) Handler() http.Handler {
	return Logging(s.Mux)
}
