package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"socksmon/internal/engine"
	"socksmon/internal/models"
)

const maxUploadSize = 100 << 20 // 100 MB

var log = logrus.WithField("component", "http")

// RegisterRoutes sets up all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, eng *engine.Engine) {
	mux.HandleFunc("/ws", HandleWebSocket(eng))
	mux.HandleFunc("/api/sessions", handleSessions(eng))
	mux.HandleFunc("/api/stats", handleStats(eng))
	mux.HandleFunc("/api/upload", handleUpload(eng))
}

func handleSessions(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, sessionViews(eng))
	}
}

func handleStats(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, eng.Stats())
	}
}

// sessionViews returns the session table ordered by flow key.
func sessionViews(eng *engine.Engine) []models.AuthEventView {
	snap := eng.Sessions().Snapshot()
	out := make([]models.AuthEventView, 0, len(snap))
	for i := range snap {
		out = append(out, snap[i].View())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowKey < out[j].FlowKey })
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write response")
	}
}

func handleUpload(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, "File too large (max 100MB)", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		// gopacket/pcap needs a file path
		tmpFile, err := os.CreateTemp("", "socksmon-*.pcap")
		if err != nil {
			http.Error(w, "Failed to create temp file", http.StatusInternalServerError)
			return
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := io.Copy(tmpFile, file); err != nil {
			tmpFile.Close()
			http.Error(w, "Failed to save file", http.StatusInternalServerError)
			return
		}
		tmpFile.Close()

		n, err := eng.LoadPcapFile(r.Context(), tmpPath)
		if err != nil {
			http.Error(w, "Failed to read pcap: "+err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, map[string]int{"packets": n})
	}
}
