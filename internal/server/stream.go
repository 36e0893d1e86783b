package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/handiism/pixiv-downloader/internal/task"
)

// Stream event names.
const (
	EventConnected = "connected"
	EventHeartbeat = "heartbeat"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventPaused    = "paused"
	EventTimeout   = "timeout"
)

func writeEvent(w http.ResponseWriter, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	w.(http.Flusher).Flush()
	return nil
}

// handleStream pushes the task's projection on every published change
// until the task is paused or reaches a terminal state, the client leaves,
// or the connection stays idle for the stream timeout. Writes of either
// kind reset the idle timer.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := w.(http.Flusher); !ok {
		s.fail(w, fmt.Errorf("streaming unsupported"))
		return
	}

	sub := s.progress.Subscribe(id)
	defer s.progress.Unsubscribe(sub)

	t, err := s.svc.Task(id)
	if err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	log := s.logger.With("task_id", id)
	writeEvent(w, EventConnected, map[string]string{"task_id": id})
	writeEvent(w, EventProgress, t)
	if final(t) {
		writeEvent(w, closingEvent(t), t)
		return
	}

	settings := s.settings.Get()
	heartbeat := time.NewTicker(settings.StreamHeartbeat.Duration)
	defer heartbeat.Stop()
	idle := time.NewTimer(settings.StreamTimeout.Duration)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("stream client disconnected")
			return

		case t, ok := <-sub.C:
			if !ok {
				t, err = s.svc.Task(id)
				if err != nil {
					return
				}
				writeEvent(w, closingEvent(t), t)
				return
			}
			if err := writeEvent(w, EventProgress, t); err != nil {
				return
			}
			if final(t) {
				writeEvent(w, closingEvent(t), t)
				return
			}
			idle.Reset(settings.StreamTimeout.Duration)

		case now := <-heartbeat.C:
			if err := writeEvent(w, EventHeartbeat, map[string]time.Time{"time": now}); err != nil {
				return
			}
			idle.Reset(settings.StreamTimeout.Duration)

		case <-idle.C:
			log.Info("stream idle timeout")
			writeEvent(w, EventTimeout, map[string]string{"task_id": id})
			return
		}
	}
}

// final reports whether the broadcaster has stopped publishing t.
func final(t task.Task) bool {
	return t.State.Terminal() || t.State == task.StatePaused
}

// closingEvent names the last event of a stream. A subscription closed
// without a terminal state was closed by a pause.
func closingEvent(t task.Task) string {
	if t.State.Terminal() {
		return EventCompleted
	}
	return EventPaused
}
