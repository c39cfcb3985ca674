package admin

import (
	"net/http"
	hpprof "net/http/pprof"
)

// mountPprof exposes the runtime profiles under /debug/pprof/ behind the
// same bearer auth as the other admin routes.
func (s *Server) mountPprof(mux *http.ServeMux, auth func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /debug/pprof/", auth(hpprof.Index))
	mux.HandleFunc("GET /debug/pprof/cmdline", auth(hpprof.Cmdline))
	mux.HandleFunc("GET /debug/pprof/profile", auth(hpprof.Profile))
	mux.HandleFunc("GET /debug/pprof/symbol", auth(hpprof.Symbol))
	mux.HandleFunc("GET /debug/pprof/trace", auth(hpprof.Trace))
}
