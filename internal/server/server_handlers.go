package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/koltyakov/fedchat/internal/netutil"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type healthResponse struct {
	Status     string       `json:"status"`
	InstanceID string       `json:"instance_id"`
	Sessions   int          `json:"sessions"`
	Peers      []peerStatus `json:"peers"`
}

type peerStatus struct {
	InstanceID string `json:"instance_id"`
	Address    string `json:"address,omitempty"`
	Direction  string `json:"direction"`
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Get(wsPath, s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// handleWS accepts every connection unclassified; the peer manager decides
// within the handshake window whether it is a peer or a client.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", netutil.RemoteHost(r), "err", err)
		return
	}
	link, err := s.newLink(conn)
	if err != nil {
		return
	}
	s.log.Debug("connection accepted", "link", link.id, "remote", link.host)
	s.post(func() {
		s.peers.AcceptInbound(link)
		link.Start()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", InstanceID: s.cfg.InstanceID}
	err := s.call(r.Context(), func() {
		resp.Sessions = s.router.Sessions()
		for _, p := range s.peers.Established() {
			resp.Peers = append(resp.Peers, peerStatus{
				InstanceID: p.InstanceID,
				Address:    p.Address,
				Direction:  string(p.Direction),
			})
		}
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	if resp.Peers == nil {
		resp.Peers = []peerStatus{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}
