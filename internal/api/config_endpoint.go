package api

import (
	"net/http"
	"strings"
)

type configResponse struct {
	BackendURL string `json:"backendURL"`
}

// configEndpoint reflects the forwarded protocol and host back as the submission URL.
func (s *Server) configEndpoint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{BackendURL: backendURL(r)})
}

func backendURL(r *http.Request) string {
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			proto = strings.ToLower(first)
		}
	}
	return proto + "://" + r.Host + "/submit-form"
}
