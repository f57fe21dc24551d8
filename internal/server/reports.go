package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/report"
)

type generateReportRequest struct {
	Title          string    `json:"title"`
	TimeRangeStart time.Time `json:"time_range_start"`
	TimeRangeEnd   time.Time `json:"time_range_end"`
	TemplateID     string    `json:"template_id"`
	Language       string    `json:"language"`
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rows, err := s.db.Reports().List(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"reports": rows, "count": len(rows)})
}

// handleGenerateReport creates the report row and starts generation in
// the background. Clients follow progress on the report stream.
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.respondError(w, core.ValidationErrorf("title is required"))
		return
	}
	if req.TimeRangeEnd.IsZero() {
		req.TimeRangeEnd = time.Now().UTC()
	}
	if req.TimeRangeStart.IsZero() {
		req.TimeRangeStart = req.TimeRangeEnd.Add(-7 * 24 * time.Hour)
	}
	if !req.TimeRangeEnd.After(req.TimeRangeStart) {
		s.respondError(w, core.ValidationErrorf("time_range_end must be after time_range_start"))
		return
	}

	rep := &core.Report{
		Title:          req.Title,
		TimeRangeStart: req.TimeRangeStart.UTC(),
		TimeRangeEnd:   req.TimeRangeEnd.UTC(),
		TemplateID:     report.TemplateByID(req.TemplateID).ID,
		Language:       req.Language,
		Status:         core.ReportGenerating,
	}
	if err := s.db.Reports().Create(r.Context(), rep); err != nil {
		s.respondError(w, err)
		return
	}

	go func() {
		if err := s.agent.Generate(context.Background(), rep.ID); err != nil {
			s.log.Error("report generation failed", "report_id", rep.ID, "error", err)
		}
	}()

	s.respondJSON(w, http.StatusAccepted, rep)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rep, err := s.db.Reports().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	references, err := s.db.Reports().ListReferences(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"report": rep, "references": references})
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.db.Reports().Delete(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReportStream streams agent state and section chunks for one
// report. For a report already in a terminal state the stream carries a
// synthesized snapshot so late subscribers still get a terminal event.
func (s *Server) handleReportStream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// Subscribe before reading the row so no frame is lost in between.
	frames, cancel := s.agent.Hub().Subscribe(id)
	defer cancel()

	rep, err := s.db.Reports().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	stream, err := newSSEStream(w)
	if err != nil {
		s.respondError(w, err)
		return
	}

	switch rep.Status {
	case core.ReportCompleted:
		_ = stream.send(report.EventAgentState, map[string]any{
			"stage": rep.AgentStage, "progress": rep.Progress,
		})
		_ = stream.send(report.EventCompleted, map[string]any{
			"content": rep.Content, "sections": rep.Sections,
		})
		return
	case core.ReportFailed:
		_ = stream.send(report.EventFailed, map[string]any{"error": rep.ErrorMessage})
		return
	}

	// Replay the current position for mid-flight joiners, then tail.
	if err := stream.send(report.EventAgentState, map[string]any{
		"stage": rep.AgentStage, "progress": rep.Progress,
	}); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := stream.send(f.Event, f.Data); err != nil {
				return
			}
		}
	}
}
