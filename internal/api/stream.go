// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const streamWriteWait = 10 * time.Second

// StreamMessage is one frame on the command stream.
type StreamMessage struct {
	Type      string    `json:"type"` // "commands", "error"
	Data      []any     `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// handleRelayStream pushes drained commands to a worker over a websocket
// until either side goes away.
func (s *Server) handleRelayStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Failed to upgrade to WebSocket", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()
	slog.Info("Command stream opened", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.streams, cancel)
	defer stop()
	go readUntilClosed(conn, cancel)

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Command stream closed", "remote", r.RemoteAddr)
			return
		case <-ticker.C:
		}

		items, err := s.relay.Fetch(ctx)
		if err != nil {
			slog.Error("Failed to fetch commands for stream", "err", err)
			if sendErr := writeFrame(conn, StreamMessage{Type: "error", Error: "failed to fetch commands"}); sendErr != nil {
				return
			}
			continue
		}
		if len(items) == 0 {
			continue
		}
		if err := writeFrame(conn, StreamMessage{Type: "commands", Data: items}); err != nil {
			// The commands were already drained; they are lost with the worker.
			slog.Error("Failed to push commands, dropping batch", "remote", r.RemoteAddr, "count", len(items), "err", err)
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	msg.Timestamp = time.Now().UTC()
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// readUntilClosed discards client frames and cancels once the peer is gone.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
