package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"asmwatch/internal/history"
	"asmwatch/internal/model"
)

// Server exposes the persisted catalog read-only. It never writes the
// history file; the merge CLI remains the single writer.
type Server struct {
	catalog *catalog
	logger  *slog.Logger
	version string
}

// catalog caches the history file and reloads it when the file changes on
// disk, so a scheduled merge shows up without restarting the server.
type catalog struct {
	store *history.Store

	mu         sync.Mutex
	detections []model.Detection
	modTime    time.Time
}

func (c *catalog) snapshot() []model.Detection {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, err := os.Stat(c.store.Path())
	if err != nil || info.ModTime().After(c.modTime) {
		c.detections = c.store.Load()
		if err == nil {
			c.modTime = info.ModTime()
		}
	}
	return c.detections
}

func Start(ctx context.Context, addr string, store *history.Store, logger *slog.Logger, version string) *http.Server {
	if addr == "" {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", addr, "catalog", store.Path())
	}
	server := &Server{
		catalog: &catalog{store: store},
		logger:  logger,
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.HandleFunc("/detections", server.handleDetections)
	mux.HandleFunc("/summary", server.handleSummary)

	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339Nano),
		"version": s.version,
	})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	filter, err := newFilter(q.Get("region"), q.Get("district"), q.Get("alert"), q.Get("from"), q.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var out []model.Detection
	for _, d := range s.catalog.snapshot() {
		if filter.match(d) {
			out = append(out, d)
		}
	}
	writeJSON(w, http.StatusOK, model.Collection(out))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	detections := s.catalog.snapshot()
	weekAgo := time.Now().UTC().AddDate(0, 0, -7).Format(model.DateFormat)

	totalArea := 0.0
	new7d := 0
	alerts := map[model.Level]int{}
	regions := map[string]int{}
	for _, d := range detections {
		totalArea += d.AreaHa
		if d.Date >= weekAgo {
			new7d++
		}
		alerts[d.AlertLevel]++
		regions[d.Region]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_sites":      len(detections),
		"new_sites_7d":     new7d,
		"high_alert_sites": alerts[model.LevelHigh],
		"total_area_ha":    totalArea,
		"alerts":           alerts,
		"regions":          regions,
	})
}

type detectionFilter struct {
	region   string
	district string
	alert    string
	from     string
	to       string
}

func newFilter(region, district, alert, from, to string) (detectionFilter, error) {
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(model.DateFormat, d); err != nil {
			return detectionFilter{}, err
		}
	}
	return detectionFilter{region: region, district: district, alert: alert, from: from, to: to}, nil
}

func (f detectionFilter) match(d model.Detection) bool {
	if f.region != "" && d.Region != f.region {
		return false
	}
	if f.district != "" && d.District != f.district {
		return false
	}
	if f.alert != "" && string(d.AlertLevel) != f.alert {
		return false
	}
	// ISO dates compare correctly as strings.
	if f.from != "" && d.Date < f.from {
		return false
	}
	if f.to != "" && d.Date > f.to {
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
