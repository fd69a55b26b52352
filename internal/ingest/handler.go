// Package ingest is the entry point for inbound SMS events. It runs on the
// latency-sensitive delivery path: a single durable write plus enqueue, no
// network.
package ingest

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shieldsms/shield/internal/store"
	"github.com/shieldsms/shield/internal/status"
)

// Handler turns inbound message events into PENDING records with queued
// classification tasks.
type Handler struct {
	db          *store.DB
	logger      *zap.Logger
	maxAttempts int
}

// NewHandler creates an ingestion handler.
func NewHandler(db *store.DB, maxAttempts int, logger *zap.Logger) *Handler {
	return &Handler{db: db, maxAttempts: maxAttempts, logger: logger}
}

// OnInbound handles one inbound event and returns the record id. Segments of
// a multipart SMS are concatenated in the order supplied by the event source.
//
// An exact (address, body, timestamp) match of an existing record is treated
// as platform redelivery and returns the existing id; force re-ingests
// regardless. An empty body is recorded for auditability but marked FAILED
// immediately, with no task, since retrying cannot help.
func (h *Handler) OnInbound(address string, segments []string, timestamp int64, force bool) (int64, error) {
	if address == "" {
		return 0, fmt.Errorf("inbound event has no sender address")
	}
	body := strings.Join(segments, "")

	// Redelivery of any event, audit records included, maps to the record
	// already created for it.
	if !force {
		existing, err := h.db.FindByEvent(address, body, timestamp)
		if err != nil {
			return 0, fmt.Errorf("dedupe lookup: %w", err)
		}
		if existing != nil {
			h.logger.Info("duplicate inbound event, returning existing record",
				zap.Int64("id", existing.ID), zap.String("address", address))
			return existing.ID, nil
		}
	}

	if strings.TrimSpace(body) == "" {
		id, err := h.db.Insert(address, body, timestamp)
		if err != nil {
			return 0, fmt.Errorf("insert empty-body record: %w", err)
		}
		if err := h.db.UpdateStatus(id, status.Failed, nil, nil); err != nil {
			return 0, fmt.Errorf("fail empty-body record: %w", err)
		}
		h.logger.Warn("inbound message has empty body, marked failed",
			zap.Int64("id", id), zap.String("address", address))
		return id, nil
	}

	id, err := h.db.InsertWithTask(address, body, timestamp, h.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("ingest message: %w", err)
	}

	h.logger.Info("message ingested",
		zap.Int64("id", id),
		zap.String("address", address),
		zap.Int("segments", len(segments)))
	return id, nil
}
