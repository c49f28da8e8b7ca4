// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"tapbeat/internal/capture"
	"tapbeat/internal/metrics"
	"tapbeat/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTransport struct{ closeErr error }

func (f *failingTransport) Name() string        { return "broken" }
func (f *failingTransport) Send(data any) error { return errors.New("wire cut") }
func (f *failingTransport) Close() error        { return f.closeErr }

func TestMessageJSON(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want string
	}{
		{
			"onset",
			NewOnsetMessage("run-1", 3, 1.25),
			`{"type":"onset","session":"run-1","seq":3,"timestamp":1.25}`,
		},
		{
			"status",
			NewStatusMessage("run-1", capture.StatusGranted),
			`{"type":"status","session":"run-1","status":"granted"}`,
		},
		{
			"status without session",
			NewStatusMessage("", capture.StatusDenied),
			`{"type":"status","status":"denied"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestSinkNumbersOnsetsPerRun(t *testing.T) {
	mock := &utils.MockTransport{}
	sink := NewSink(nil, mock)

	sink.OnRunStart("run-1")
	sink.OnSessionStatus(capture.StatusGranted)
	sink.OnOnset(0.5)
	sink.OnOnset(1.0)
	sink.OnRunEnd("run-1", 2)

	sink.OnRunStart("run-2")
	sink.OnOnset(0.3)

	assert.Equal(t, []any{
		NewStatusMessage("run-1", capture.StatusGranted),
		NewOnsetMessage("run-1", 1, 0.5),
		NewOnsetMessage("run-1", 2, 1.0),
		NewOnsetMessage("run-2", 1, 0.3),
	}, mock.Messages())
}

func TestSinkStatusOutsideRun(t *testing.T) {
	mock := &utils.MockTransport{}
	sink := NewSink(nil, mock)

	sink.OnRunStart("run-1")
	sink.OnSessionStatus(capture.StatusError)
	sink.OnRunEnd("run-1", 0)
	sink.OnSessionStatus(capture.StatusDenied)

	assert.Equal(t, []any{
		NewStatusMessage("run-1", capture.StatusError),
		NewStatusMessage("", capture.StatusDenied),
	}, mock.Messages())
}

func TestSinkLateRunEndKeepsNewRun(t *testing.T) {
	mock := &utils.MockTransport{}
	sink := NewSink(nil, mock)

	sink.OnRunStart("run-2")
	sink.OnRunEnd("run-1", 4)
	sink.OnOnset(1)

	assert.Equal(t, []any{NewOnsetMessage("run-2", 1, 1)}, mock.Messages())
}

func TestSinkCountsTransportErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := metrics.NewCaptureMetrics(registry)
	require.NoError(t, err)

	mock := &utils.MockTransport{}
	sink := NewSink(m, &failingTransport{}, mock)
	sink.OnOnset(1)
	sink.OnOnset(2)

	// A failing transport does not starve the others.
	assert.Len(t, mock.Messages(), 2)
	expected := `
# HELP tapbeat_transport_errors_total Failed event deliveries partitioned by transport
# TYPE tapbeat_transport_errors_total counter
tapbeat_transport_errors_total{transport="broken"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "tapbeat_transport_errors_total"))
}

func TestSinkClose(t *testing.T) {
	mock := &utils.MockTransport{}
	closeErr := errors.New("stuck")
	sink := NewSink(nil, mock, &failingTransport{closeErr: closeErr})

	err := sink.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, closeErr)
	assert.Contains(t, err.Error(), "broken")
	assert.True(t, mock.Closed())
}

func TestSinkImplementsCaptureInterfaces(t *testing.T) {
	var sink capture.EventSink = NewSink(nil)
	_, ok := sink.(capture.RunObserver)
	assert.True(t, ok)
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport()
	assert.Equal(t, "log", lt.Name())
	assert.NoError(t, lt.Send(NewOnsetMessage("run", 1, 0.1)))
	assert.NoError(t, lt.Send(NewStatusMessage("run", capture.StatusGranted)))
	assert.NoError(t, lt.Send(map[string]int{"other": 1}))
	assert.NoError(t, lt.Send(func() {}))
	assert.NoError(t, lt.Close())
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "broken", transportName(&failingTransport{}))
	assert.Equal(t, "*utils.MockTransport", transportName(&utils.MockTransport{}))
}
