// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type durationHolder struct {
	Duration *Duration `json:"duration,omitempty"`
}

func TestDurationUnmarshalString(t *testing.T) {
	var h *durationHolder
	require.NoError(t, json.Unmarshal([]byte(`{"duration": "100s"}`), &h))
	require.NotNil(t, h.Duration)
	require.Equal(t, 100*time.Second, h.Duration.Duration)
}

func TestDurationUnmarshalFloat(t *testing.T) {
	var h *durationHolder
	require.NoError(t, json.Unmarshal([]byte(`{"duration": 4.5}`), &h))
	require.NotNil(t, h.Duration)
	f := 4.5
	require.Equal(t, time.Duration(f), h.Duration.Duration)
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	var h *durationHolder
	require.Error(t, json.Unmarshal([]byte(`{"duration": "not a duration"}`), &h))
	require.Error(t, json.Unmarshal([]byte(`{"duration": true}`), &h))
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	h := &durationHolder{Duration: &Duration{Duration: 90 * time.Second}}
	data, err := json.Marshal(h)
	require.NoError(t, err)

	var got *durationHolder
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, h.Duration.Duration, got.Duration.Duration)
}
