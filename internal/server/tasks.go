package server

import (
	"context"
	"net/http"
	"strings"

	"newsradar/internal/core"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rows, err := s.db.Tasks().List(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"tasks": rows, "count": len(rows)})
}

// handleCreateTask creates a task and dispatches it in the background.
// The response carries the pending row; progress arrives on the event
// stream.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskType string         `json:"task_type"`
		Title    string         `json:"title"`
		Params   map[string]any `json:"params"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if strings.TrimSpace(req.TaskType) == "" {
		s.respondError(w, core.ValidationErrorf("task_type is required"))
		return
	}
	if req.Title == "" {
		req.Title = req.TaskType
	}

	task, err := s.tasks.Create(r.Context(), req.TaskType, req.Title, req.Params)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// The run outlives the request.
	go func() {
		if err := s.tasks.Run(context.Background(), task.ID); err != nil {
			s.log.Error("task run failed", "task_id", task.ID, "error", err)
		}
	}()

	s.respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	task, err := s.db.Tasks().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.tasks.Cancel(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": id, "cancel_requested": true})
}

// handleTaskStream replays the task's persisted events and then tails
// the live broadcast until the task finishes or the client disconnects.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	history, live, cancel, err := s.tasks.Stream(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	defer cancel()

	stream, err := newSSEStream(w)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// Events published between subscribe and the history read appear in
	// both; the replayed id high-water mark filters them out.
	var lastID int64
	for _, e := range history {
		if err := stream.sendTaskEvent(e); err != nil {
			return
		}
		lastID = e.ID
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-live:
			if !ok {
				return
			}
			if e.ID <= lastID {
				continue
			}
			if err := stream.sendTaskEvent(e); err != nil {
				return
			}
		}
	}
}
