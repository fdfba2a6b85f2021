package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/casamocholi/organizer/internal/orchestrator"
)

// onStorageUpdated bridges the change bus to connected clients.
func (s *Server) onStorageUpdated() {
	s.Broadcast(Message{
		Type:      MessageTypeStorageUpdated,
		Timestamp: time.Now(),
	})
}

// onSyncStatus bridges status transitions to connected clients.
func (s *Server) onSyncStatus(ev orchestrator.StatusEvent) {
	s.Broadcast(statusMessage(ev))
}

func statusData(ev orchestrator.StatusEvent) StatusData {
	return StatusData{
		Status: string(ev.Status),
		Error:  ev.Message(),
		At:     ev.At,
	}
}

func statusMessage(ev orchestrator.StatusEvent) Message {
	data, _ := json.Marshal(statusData(ev))
	return Message{
		Type:      MessageTypeSyncStatus,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleStatus returns the most recent sync status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeJSON(w, http.StatusOK, StatusData{Status: string(orchestrator.StatusDisconnected), At: time.Now()})
		return
	}
	writeJSON(w, http.StatusOK, statusData(s.syncer.Status()))
}

// handleSnapshot returns the full local snapshot
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.logger.Printf("Failed to read snapshot: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSync runs a sync attempt and reports its outcome
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": orchestrator.ErrDisconnected.Error()})
		return
	}

	err := s.syncer.SyncNow(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusData(s.syncer.Status()))
	case errors.Is(err, orchestrator.ErrDisconnected):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Printf("Manual sync failed: %v", err)
		writeJSON(w, http.StatusBadGateway, StatusData{
			Status: string(orchestrator.StatusFailed),
			Error:  err.Error(),
			At:     time.Now(),
		})
	}
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Casa Mocholí</title>
</head>
<body>
    <h1>Casa Mocholí Organizer</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Sync status: <a href="/status">/status</a></p>
    <p>Local data: <a href="/snapshot">/snapshot</a></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}
