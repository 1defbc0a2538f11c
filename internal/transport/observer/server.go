// Package observer serves read-only machine status to local operators.
package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"

	"machinesync.dev/internal/world"
)

// Source is what the status endpoints read from; *world.World implements it.
type Source interface {
	Snapshot() world.Snapshot
	TickRateHz() int
}

type Server struct {
	src Source
	log *log.Logger
}

func NewServer(src Source, logger *log.Logger) *Server {
	return &Server{src: src, log: logger}
}

type statusResponse struct {
	TickRateHz int `json:"tick_rate_hz"`
	world.Snapshot
}

// StatusHandler returns every machine; ?id= narrows to one.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		snap := s.src.Snapshot()
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			var found []world.MachineStatus
			for _, m := range snap.Machines {
				if m.ID == id {
					found = append(found, m)
				}
			}
			if len(found) == 0 {
				http.Error(rw, "machine not found", http.StatusNotFound)
				return
			}
			snap.Machines = found
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(statusResponse{TickRateHz: s.src.TickRateHz(), Snapshot: snap})
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
