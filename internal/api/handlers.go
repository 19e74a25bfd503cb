// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ffutop/devicesync/internal/model"
	"github.com/ffutop/devicesync/internal/persistence"
	"github.com/ffutop/devicesync/internal/relay"
	"github.com/ffutop/devicesync/internal/store"
)

const (
	msgSuccess       = "Success"
	msgInvalidBody   = "Invalid JSON or missing mac_address"
	msgMissingHeader = "Missing mac_address in headers"
	msgNoStatus      = "No status found"
	msgCorrupt       = "Invalid JSON file"
	msgStorage       = "Storage failure"
)

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadRequest struct {
	DeviceID  string          `json:"mac_address"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type healthResponse struct {
	Status         string        `json:"status"` // "ok", "degraded"
	PendingChanges *int          `json:"pending_changes,omitempty"`
	Relay          *relayHealth  `json:"relay,omitempty"`
	Ingest         *ingestHealth `json:"ingest,omitempty"`
}

type relayHealth struct {
	Commands int `json:"commands"`
	Logs     int `json:"logs"`
}

type ingestHealth struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

type submitResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeStoreError maps the store error taxonomy onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrCorruptState):
		slog.Error("Persisted state is corrupt", "path", r.URL.Path, "request_id", RequestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, msgCorrupt)
	default:
		slog.Error("Request failed", "path", r.URL.Path, "request_id", RequestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, msgStorage)
	}
}

// decodeObject reads a JSON object body. A body that is not an object
// yields nil.
func decodeObject(w http.ResponseWriter, r *http.Request) map[string]any {
	var doc map[string]any
	if err := persistence.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodySize), &doc); err != nil {
		return nil
	}
	return doc
}

// deviceHeader reads the device id from either header spelling agents use.
func deviceHeader(r *http.Request) string {
	if id := r.Header.Get("mac_address"); id != "" {
		return id
	}
	return r.Header.Get("mac-address")
}

// handleHealth reports backlog counters. Any unreadable counter turns the
// response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if pending, err := s.mailbox.Pending(r.Context()); err != nil {
		slog.Warn("Health check: mailbox unreadable", "err", err)
		resp.Status = "degraded"
	} else {
		n := len(pending)
		resp.PendingChanges = &n
	}

	if s.relay != nil {
		if commands, logs, err := s.relay.Pending(r.Context()); err != nil {
			slog.Warn("Health check: relay queues unreadable", "err", err)
			resp.Status = "degraded"
		} else {
			resp.Relay = &relayHealth{Commands: commands, Logs: logs}
		}
	}

	if s.ingest != nil {
		accepted, rejected := s.ingest.Stats()
		resp.Ingest = &ingestHealth{Accepted: accepted, Rejected: rejected}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	doc := decodeObject(w, r)
	rec, err := model.RecordFromMap(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if err := s.status.Upsert(r.Context(), rec); err != nil {
		writeStoreError(w, r, err)
		return
	}
	slog.Info("Device status received", "device", rec.ID)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgSuccess})
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	records, err := s.status.ReadAll(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleStatusCheck(w http.ResponseWriter, r *http.Request) {
	id := deviceHeader(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, msgMissingHeader)
		return
	}

	payload, err := s.mailbox.Consume(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: msgNoStatus})
		return
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	slog.Info("Pending change delivered", "device", id)
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleStatusChange(w http.ResponseWriter, r *http.Request) {
	doc := decodeObject(w, r)
	id, _ := doc[model.DeviceIDField].(string)
	if id == "" {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if err := s.mailbox.Produce(r.Context(), id, doc); err != nil {
		writeStoreError(w, r, err)
		return
	}
	slog.Info("Pending change stored", "device", id)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgSuccess})
}

func (s *Server) handleDataUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := persistence.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodySize), &req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	entries, err := parseEntries(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.logs.Append(r.Context(), req.DeviceID, req.Timestamp, entries...); err != nil {
		writeStoreError(w, r, err)
		return
	}
	slog.Info("Device data received", "device", req.DeviceID, "bucket", req.Timestamp, "entries", len(entries))
	writeJSON(w, http.StatusOK, messageResponse{Message: msgSuccess})
}

// parseEntries accepts a single object or an array of objects.
func parseEntries(raw json.RawMessage) ([]model.LogEntry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var one model.LogEntry
	if err := persistence.DecodeJSON(bytes.NewReader(raw), &one); err == nil {
		return []model.LogEntry{one}, nil
	}

	var many []model.LogEntry
	if err := persistence.DecodeJSON(bytes.NewReader(raw), &many); err != nil {
		return nil, fmt.Errorf("data must be an object or an array of objects")
	}
	for i, e := range many {
		if e == nil {
			return nil, fmt.Errorf("data[%d] must be an object", i)
		}
	}
	return many, nil
}

func (s *Server) handleDataFiles(w http.ResponseWriter, r *http.Request) {
	id := deviceHeader(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, msgMissingHeader)
		return
	}

	book, err := s.logs.ReadFor(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	slog.Debug("Device data read", "device", id, "buckets", book.Buckets())
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.units.List(r.Context())
	if err != nil {
		slog.Error("Failed to list persisted units", "err", err)
		writeError(w, http.StatusInternalServerError, msgStorage)
		return
	}
	if units == nil {
		units = []persistence.UnitInfo{}
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleRelaySubmit(w http.ResponseWriter, r *http.Request) {
	doc := decodeObject(w, r)
	id, err := s.relay.Submit(r.Context(), relay.Message(doc))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Message: msgSuccess, RequestID: id})
}

func (s *Server) handleRelayFetch(w http.ResponseWriter, r *http.Request) {
	items, err := s.relay.Fetch(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleRelayReport(w http.ResponseWriter, r *http.Request) {
	doc := decodeObject(w, r)
	if err := s.relay.Report(r.Context(), relay.Message(doc)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgSuccess})
}

func (s *Server) handleRelayCollect(w http.ResponseWriter, r *http.Request) {
	items, err := s.relay.Collect(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
