package api

import (
	"net/http"
)

// healthResponse is the liveness probe body. Readiness is not reported
// separately: the process serves traffic as soon as the store opens.
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: "mailaudit"})
}
