//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package codec turns arbitrary channel values into column safe text tagged
// with the kind of encoding that produced it.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags how a Value payload was produced.
type Kind string

const (
	// KindJSON payloads are base64 encoded JSON documents.
	KindJSON Kind = "json"
	// KindMsgpack payloads are base64 encoded, zstd compressed msgpack documents.
	KindMsgpack Kind = "msgpack"
)

// ErrUnknownKind is returned when a value carries a kind this codec cannot read.
var ErrUnknownKind = errors.New("codec: unknown value kind")

// Value is an encoded channel value. Kind selects the decoder for Payload.
type Value struct {
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload"`
}

// Codec encodes values with one configured kind and decodes every known kind.
type Codec struct {
	kind Kind
}

// Option configures a Codec.
type Option func(*Codec)

// WithKind selects the kind used by Encode. Decode is not affected.
func WithKind(kind Kind) Option {
	return func(c *Codec) {
		if kind != "" {
			c.kind = kind
		}
	}
}

// New creates a codec. JSON is used unless WithKind says otherwise.
func New(opts ...Option) *Codec {
	c := &Codec{kind: KindJSON}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind returns the kind Encode produces.
func (c *Codec) Kind() Kind {
	return c.kind
}

// Encode serializes v with the configured kind.
// Functions, channels and cyclic structures are not supported.
func (c *Codec) Encode(v any) (Value, error) {
	switch c.kind {
	case KindJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return Value{}, fmt.Errorf("codec: marshal json: %w", err)
		}
		return Value{Kind: KindJSON, Payload: base64.StdEncoding.EncodeToString(b)}, nil
	case KindMsgpack:
		b, err := msgpack.Marshal(v)
		if err != nil {
			return Value{}, fmt.Errorf("codec: marshal msgpack: %w", err)
		}
		compressed, err := compress(b)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindMsgpack, Payload: base64.StdEncoding.EncodeToString(compressed)}, nil
	default:
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownKind, c.kind)
	}
}

// Decode reverses Encode.
//
// A malformed JSON payload is not an error: the raw payload text is returned
// so that one corrupted row never blocks a whole read. Msgpack payloads and
// unknown kinds do report errors.
func (c *Codec) Decode(v Value) (any, error) {
	switch v.Kind {
	case KindJSON, "":
		b, err := base64.StdEncoding.DecodeString(v.Payload)
		if err != nil {
			return v.Payload, nil
		}
		out, err := unmarshalJSON(b)
		if err != nil {
			return v.Payload, nil
		}
		return out, nil
	case KindMsgpack:
		b, err := decompressPayload(v.Payload)
		if err != nil {
			return nil, err
		}
		dec := msgpack.NewDecoder(bytes.NewReader(b))
		dec.UseLooseInterfaceDecoding(true)
		out, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return nil, fmt.Errorf("codec: unmarshal msgpack: %w", err)
		}
		return normalizeMsgpack(out), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, v.Kind)
	}
}

// DecodeInto decodes v into target, which must be a pointer.
// Unlike Decode it reports malformed JSON.
func (c *Codec) DecodeInto(v Value, target any) error {
	switch v.Kind {
	case KindJSON, "":
		b, err := base64.StdEncoding.DecodeString(v.Payload)
		if err != nil {
			return fmt.Errorf("codec: decode base64: %w", err)
		}
		if err := json.Unmarshal(b, target); err != nil {
			return fmt.Errorf("codec: unmarshal json: %w", err)
		}
		return nil
	case KindMsgpack:
		b, err := decompressPayload(v.Payload)
		if err != nil {
			return err
		}
		if err := msgpack.Unmarshal(b, target); err != nil {
			return fmt.Errorf("codec: unmarshal msgpack: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, v.Kind)
	}
}

func decompressPayload(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: decode base64: %w", err)
	}
	return decompress(raw)
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decode: %w", err)
	}
	return out, nil
}

// unmarshalJSON decodes a single JSON document. Integral numbers become
// int64 (uint64 above the int64 range), other numbers float64.
func unmarshalJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("codec: trailing data after json value")
	}
	return normalizeJSON(out), nil
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeJSON(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalizeJSON(item)
		}
		return t
	case json.Number:
		return number(t)
	default:
		return v
	}
}

func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return u
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return f
}

// normalizeMsgpack maps msgpack's loose decoding onto the shapes JSON decoding
// produces. Integers keep their exact int64 or uint64 value.
func normalizeMsgpack(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeMsgpack(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalizeMsgpack(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = normalizeMsgpack(item)
		}
		return t
	default:
		return v
	}
}
