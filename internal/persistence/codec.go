// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	// Documents decoded with DecodeJSON carry json.Number; msgpack must
	// write those as numbers, not strings.
	msgpack.Register(json.Number(""), encodeJSONNumber, decodeJSONNumber)
}

// Codec serializes collections to and from their persisted form.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Extension is the file suffix used by file-based backends.
	Extension() string
}

// NewCodec returns the codec registered under name ("json" or "msgpack").
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec writes human-readable, 4-space indented JSON without HTML escaping.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return DecodeJSON(bytes.NewReader(data), v)
}

func (JSONCodec) Extension() string { return ".json" }

// MsgpackCodec is a compact binary alternative, used mostly with Redis.
type MsgpackCodec struct{}

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("msgpack: empty input")
	}
	return msgpack.Unmarshal(data, v)
}

func (MsgpackCodec) Extension() string { return ".msgpack" }

// DecodeJSON decodes exactly one JSON value from r. Numbers inside untyped
// values are kept as json.Number so integers beyond 2^53 survive a round
// trip unchanged.
func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("json: unexpected data after top-level value")
	}
	return nil
}

func encodeJSONNumber(e *msgpack.Encoder, v reflect.Value) error {
	s := v.String()
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return e.EncodeInt(n)
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return e.EncodeUint(n)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("msgpack: invalid json.Number %q", s)
	}
	return e.EncodeFloat64(f)
}

func decodeJSONNumber(d *msgpack.Decoder, v reflect.Value) error {
	n, err := d.DecodeInterfaceLoose()
	if err != nil {
		return err
	}
	switch n := n.(type) {
	case int64:
		v.SetString(strconv.FormatInt(n, 10))
	case uint64:
		v.SetString(strconv.FormatUint(n, 10))
	case float64:
		v.SetString(strconv.FormatFloat(n, 'g', -1, 64))
	case string:
		v.SetString(n)
	default:
		return fmt.Errorf("msgpack: cannot decode %T into json.Number", n)
	}
	return nil
}
