// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/devicesync/internal/config"
)

// Serial feeds an Ingester from a serial line, reopening the port after
// failures until its context is cancelled.
type Serial struct {
	serialPort

	ingester       *Ingester
	reconnectDelay time.Duration
}

// serialPort has configuration and I/O controller.
type serialPort struct {
	// Serial port configuration.
	serial.Config

	open func(*serial.Config) (io.ReadWriteCloser, error)

	mu   sync.Mutex
	port io.ReadWriteCloser
}

func openSerial(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

func NewSerial(cfg config.SerialConfig, in *Ingester) *Serial {
	s := &Serial{
		ingester:       in,
		reconnectDelay: cfg.ReconnectDelay,
	}
	s.serialPort.open = openSerial
	s.serialPort.Config = serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
		RS485: serial.RS485Config{
			Enabled:            cfg.RS485,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		},
	}
	return s
}

// Run blocks until ctx is cancelled.
func (s *Serial) Run(ctx context.Context) error {
	for {
		if err := s.session(ctx); err != nil {
			slog.Warn("Serial ingest interrupted", "device", s.Address, "err", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Serial) session(ctx context.Context) error {
	port, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	slog.Info("Serial ingest listening", "device", s.Address)
	defer func() {
		accepted, rejected := s.ingester.Stats()
		slog.Info("Serial ingest session closed", "device", s.Address, "accepted", accepted, "rejected", rejected)
	}()

	// Unblock a pending Read on shutdown.
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	if err := s.ingester.Consume(ctx, timeoutReader{port}); err != nil {
		return err
	}
	if ctx.Err() == nil {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// connect opens the serial port if it is not open yet.
func (sp *serialPort) connect(ctx context.Context) (io.ReadWriteCloser, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sp.port == nil {
		port, err := sp.open(&sp.Config)
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %w", sp.Config.Address, err)
		}
		sp.port = port
	}
	return sp.port, nil
}

func (sp *serialPort) Close() (err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.port != nil {
		err = sp.port.Close()
		sp.port = nil
	}
	return
}

// timeoutReader hides read timeouts of an idle line from the scanner.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	for {
		n, err := t.r.Read(p)
		if n == 0 && errors.Is(err, serial.ErrTimeout) {
			continue
		}
		return n, err
	}
}
