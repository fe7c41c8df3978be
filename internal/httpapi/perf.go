package httpapi

import "net/http"

func (s *Server) handlePerfPipeline(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

type monitorSettingsResponse struct {
	TickMS               int64 `json:"tick_ms"`
	FaceAbsenceMS        int64 `json:"face_absence_ms"`
	FocusLossMS          int64 `json:"focus_loss_ms"`
	InstantCooldownTicks int   `json:"instant_cooldown_ticks"`
	IdleTimeoutMS        int64 `json:"idle_timeout_ms"`
}

// handleMonitorSettings hands debounce thresholds to monitored clients so
// every client applies the same cadence.
func (s *Server) handleMonitorSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, monitorSettingsResponse{
		TickMS:               s.cfg.MonitorTick.Milliseconds(),
		FaceAbsenceMS:        s.cfg.FaceAbsenceThreshold.Milliseconds(),
		FocusLossMS:          s.cfg.FocusLossThreshold.Milliseconds(),
		InstantCooldownTicks: s.cfg.InstantCooldownTicks,
		IdleTimeoutMS:        s.sessions.IdleTimeout().Milliseconds(),
	})
}
