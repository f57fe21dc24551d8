package server

import (
	"net/http"
	"strings"
	"time"

	"newsradar/internal/core"
)

type scheduleRequest struct {
	Name          string         `json:"name"`
	ScheduleType  string         `json:"schedule_type"`
	IntervalMin   int            `json:"interval_minutes"`
	MaxExecutions *int           `json:"max_executions"`
	Config        map[string]any `json:"config"`
}

func (req *scheduleRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return core.ValidationErrorf("name is required")
	}
	switch req.ScheduleType {
	case core.ScheduleSitemapCrawl, core.ScheduleArticleCrawl, core.ScheduleKeywordSearch:
	default:
		return core.ValidationErrorf("unknown schedule_type %q", req.ScheduleType)
	}
	if req.IntervalMin < 1 {
		return core.ValidationErrorf("interval_minutes must be at least 1")
	}
	if req.MaxExecutions != nil && *req.MaxExecutions < 1 {
		return core.ValidationErrorf("max_executions must be at least 1")
	}
	return nil
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rows, err := s.db.Schedules().List(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"schedules": rows, "count": len(rows)})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, err)
		return
	}

	now := time.Now().UTC()
	schedule := &core.Schedule{
		Name:          req.Name,
		ScheduleType:  req.ScheduleType,
		Status:        core.ScheduleActive,
		IntervalMin:   req.IntervalMin,
		MaxExecutions: req.MaxExecutions,
		Config:        req.Config,
		NextRunAt:     &now,
	}
	if err := s.db.Schedules().Create(r.Context(), schedule); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, schedule)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	schedule, err := s.db.Schedules().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, schedule)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	schedule, err := s.db.Schedules().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, err)
		return
	}

	schedule.Name = req.Name
	schedule.ScheduleType = req.ScheduleType
	schedule.IntervalMin = req.IntervalMin
	schedule.MaxExecutions = req.MaxExecutions
	schedule.Config = req.Config
	if err := s.db.Schedules().Update(r.Context(), schedule); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, schedule)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.db.Schedules().Delete(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleStatus(w, r, core.SchedulePaused)
}

func (s *Server) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleStatus(w, r, core.ScheduleActive)
}

func (s *Server) setScheduleStatus(w http.ResponseWriter, r *http.Request, status string) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	schedule, err := s.db.Schedules().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if schedule.Status == core.ScheduleDisabled {
		s.respondError(w, core.ValidationErrorf("schedule %d is disabled", id))
		return
	}

	schedule.Status = status
	if status == core.ScheduleActive && schedule.NextRunAt == nil {
		now := time.Now().UTC()
		schedule.NextRunAt = &now
	}
	if err := s.db.Schedules().Update(r.Context(), schedule); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, schedule)
}

// handleExecuteSchedule runs the schedule synchronously, outside its
// normal cadence.
func (s *Server) handleExecuteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.sched.Execute(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	schedule, err := s.db.Schedules().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, schedule)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.sched.Status())
}

// handleSchedulerTrigger forces one dispatch pass and reports the
// resulting loop state.
func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Tick(r.Context()); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.sched.Status())
}
