// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"fmt"
	"sort"
)

const (
	// DeviceIDField is the wire name of the hardware address agents report under.
	DeviceIDField = "mac_address"
	// LastSeenField is stamped by the status store on every upsert.
	LastSeenField = "last_seen"
)

// DeviceRecord is the latest known state of one device.
// ID is kept apart from the open-ended Fields so the key can never be
// merged away; Fields never contains DeviceIDField.
//
// A record with an empty ID is a stored document that carries no usable
// device id. Its Fields are that document verbatim.
type DeviceRecord struct {
	ID     string
	Fields map[string]any
}

// NewDeviceRecord creates a record with an empty field set.
func NewDeviceRecord(id string) DeviceRecord {
	return DeviceRecord{ID: id, Fields: make(map[string]any)}
}

// RecordFromMap builds a record from a flat document as sent by an agent.
// It fails if the document has no non-empty string DeviceIDField.
func RecordFromMap(doc map[string]any) (DeviceRecord, error) {
	raw, ok := doc[DeviceIDField]
	if !ok {
		return DeviceRecord{}, fmt.Errorf("missing %s", DeviceIDField)
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return DeviceRecord{}, fmt.Errorf("invalid %s: %v", DeviceIDField, raw)
	}

	rec := NewDeviceRecord(id)
	for k, v := range doc {
		if k == DeviceIDField {
			continue
		}
		rec.Fields[k] = v
	}
	return rec, nil
}

// ToMap flattens the record back into a single document.
func (r DeviceRecord) ToMap() map[string]any {
	doc := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		doc[k] = v
	}
	if r.ID != "" {
		doc[DeviceIDField] = r.ID
	}
	return doc
}

// Keyed reports whether the record has a device id.
func (r DeviceRecord) Keyed() bool {
	return r.ID != ""
}

// Merge overwrites r's fields with those of other. Fields absent from other
// are preserved. IDs must match.
func (r *DeviceRecord) Merge(other DeviceRecord) error {
	if r.ID != other.ID {
		return fmt.Errorf("cannot merge record %q into %q", other.ID, r.ID)
	}
	if r.Fields == nil {
		r.Fields = make(map[string]any, len(other.Fields))
	}
	for k, v := range other.Fields {
		r.Fields[k] = v
	}
	return nil
}

// Clone returns a shallow copy with its own field map.
func (r DeviceRecord) Clone() DeviceRecord {
	c := NewDeviceRecord(r.ID)
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	return c
}

// LogEntry is one flat dictionary uploaded by an agent.
type LogEntry map[string]any

// LogBook holds a device's log entries grouped by agent-chosen bucket.
type LogBook map[string][]LogEntry

// Buckets returns the bucket names in lexical order.
func (b LogBook) Buckets() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
