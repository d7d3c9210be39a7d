package server

import (
	"net/http"

	"github.com/n0madic/go-modelgate/internal/codec"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

type healthResponse struct {
	Status   string   `json:"status"`
	Backends []string `json:"backends"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Backends: []string{}}
	for _, b := range upstream.Backends() {
		if s.Router.Configured(b) {
			resp.Backends = append(resp.Backends, string(b))
		}
	}
	codec.WriteJSON(w, http.StatusOK, resp)
}
