// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package obfuscate implements the symmetric XOR transform agents apply to
// uploaded log payloads. It is not a security control.
package obfuscate

import (
	"fmt"
	"strings"

	"github.com/ffutop/devicesync/internal/model"
)

// DefaultKey is the single-byte key shared with the agents.
const DefaultKey byte = 5

// Transform XORs every code point of a string with a fixed key.
// Encode and Decode are the same operation.
type Transform struct {
	key rune
}

// New creates a Transform for the given key. A zero key would make the
// transform the identity and is rejected.
func New(key int) (*Transform, error) {
	if key <= 0 || key > 0xFF {
		return nil, fmt.Errorf("obfuscation key must be in 1..255, got %d", key)
	}
	return &Transform{key: rune(key)}, nil
}

// Default returns a Transform using DefaultKey.
func Default() *Transform {
	return &Transform{key: rune(DefaultKey)}
}

// Encode obfuscates s.
func (t *Transform) Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(r ^ t.key)
	}
	return b.String()
}

// Decode reverses Encode.
func (t *Transform) Decode(s string) string {
	return t.Encode(s)
}

// DecodeEntry decodes the keys and string values of a log entry.
// Non-string values are copied through untouched.
func (t *Transform) DecodeEntry(e model.LogEntry) model.LogEntry {
	out := make(model.LogEntry, len(e))
	for k, v := range e {
		if s, ok := v.(string); ok {
			v = t.Decode(s)
		}
		out[t.Decode(k)] = v
	}
	return out
}

// EncodeEntry is the agent-side counterpart of DecodeEntry.
func (t *Transform) EncodeEntry(e model.LogEntry) model.LogEntry {
	// XOR is its own inverse.
	return t.DecodeEntry(e)
}
