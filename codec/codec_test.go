//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package codec

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	values := []any{
		"hello",
		int64(42),
		1.5,
		true,
		nil,
		[]any{"a", int64(1), false},
		map[string]any{"x": int64(-1), "y": 0.25},
		map[string]any{
			"role":    "assistant",
			"content": "hi",
			"nested":  map[string]any{"list": []any{int64(1), "two"}},
		},
	}

	for _, kind := range []Kind{KindJSON, KindMsgpack} {
		c := New(WithKind(kind))
		for _, v := range values {
			encoded, err := c.Encode(v)
			require.NoError(t, err)
			assert.Equal(t, kind, encoded.Kind)

			decoded, err := c.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, v, decoded, "kind=%s", kind)
		}
	}
}

func TestCodec_LargeIntegersKeepPrecision(t *testing.T) {
	const big = int64(9007199254740993) // 2^53 + 1
	for _, kind := range []Kind{KindJSON, KindMsgpack} {
		c := New(WithKind(kind))
		encoded, err := c.Encode(map[string]any{"n": big, "list": []any{big}})
		require.NoError(t, err)

		decoded, err := c.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"n": big, "list": []any{big}}, decoded, "kind=%s", kind)
	}
}

func TestCodec_JSONNumbers(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{raw: `7`, want: int64(7)},
		{raw: `-3`, want: int64(-3)},
		{raw: `18446744073709551615`, want: uint64(18446744073709551615)},
		{raw: `2.5`, want: 2.5},
		{raw: `1e3`, want: float64(1000)},
	}
	c := New()
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			out, err := c.Decode(Value{Kind: KindJSON, Payload: base64.StdEncoding.EncodeToString([]byte(tt.raw))})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCodec_DecodeJSONTrailingDataReturnsRawText(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`{"a":1} {"b":2}`))
	out, err := New().Decode(Value{Kind: KindJSON, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestCodec_DefaultKindIsJSON(t *testing.T) {
	c := New()
	assert.Equal(t, KindJSON, c.Kind())

	v, err := c.Encode(map[string]int{"x": 1})
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(v.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(raw))
}

func TestCodec_DecodeMalformedJSONReturnsRawText(t *testing.T) {
	c := New()

	out, err := c.Decode(Value{Kind: KindJSON, Payload: "%%not-base64%%"})
	require.NoError(t, err)
	assert.Equal(t, "%%not-base64%%", out)

	notJSON := base64.StdEncoding.EncodeToString([]byte("{broken"))
	out, err = c.Decode(Value{Kind: KindJSON, Payload: notJSON})
	require.NoError(t, err)
	assert.Equal(t, notJSON, out)
}

func TestCodec_DecodeUnknownKind(t *testing.T) {
	_, err := New().Decode(Value{Kind: "pickle", Payload: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, err = New(WithKind("pickle")).Encode(1)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestCodec_DecodeMalformedMsgpack(t *testing.T) {
	_, err := New().Decode(Value{Kind: KindMsgpack, Payload: base64.StdEncoding.EncodeToString([]byte("nope"))})
	require.Error(t, err)
}

func TestCodec_EncodeUnsupported(t *testing.T) {
	_, err := New().Encode(func() {})
	require.Error(t, err)
}

func TestCodec_DecodeInto(t *testing.T) {
	type payload struct {
		Output string `json:"output" msgpack:"output"`
		Count  int    `json:"count" msgpack:"count"`
	}
	for _, kind := range []Kind{KindJSON, KindMsgpack} {
		c := New(WithKind(kind))
		v, err := c.Encode(payload{Output: "42", Count: 3})
		require.NoError(t, err)

		var got payload
		require.NoError(t, c.DecodeInto(v, &got))
		assert.Equal(t, payload{Output: "42", Count: 3}, got)
	}

	var target map[string]any
	err := New().DecodeInto(Value{Kind: KindJSON, Payload: "@@"}, &target)
	require.Error(t, err)
}
