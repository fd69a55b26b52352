package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shieldsms/shield/internal/store"
)

// eventEnvelope is one server-sent event on the watch stream.
type eventEnvelope struct {
	EventID          string          `json:"event_id"`
	OccurredAtUnixMS int64           `json:"occurred_at_unix_ms"`
	Kind             string          `json:"kind"`
	Messages         []store.Message `json:"messages"`
}

// watch streams ordered snapshots as server-sent events. The first event is
// the current snapshot; later events are coalesced updates.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	ch, unsub := h.view.Watch()
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case snap := <-ch:
			env := eventEnvelope{
				EventID:          uuid.New().String(),
				OccurredAtUnixMS: snap.At.UnixMilli(),
				Kind:             "messages.snapshot",
				Messages:         snap.Messages,
			}
			data, err := json.Marshal(env)
			if err != nil {
				h.logger.Error("failed to encode watch event", zap.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
