package etl_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/transitx/transitx/internal/etl"
	"github.com/transitx/transitx/internal/telemetry"
)

type stubStage struct {
	name string
	err  error
	log  *[]string
}

func (s stubStage) Name() string { return s.name }

func (s stubStage) Run(context.Context) error {
	*s.log = append(*s.log, s.name)
	return s.err
}

func TestRunner_Sequential(t *testing.T) {
	var ran []string
	r := etl.NewRunner(zerolog.Nop(), telemetry.NewCollectors(),
		stubStage{name: "a", log: &ran},
		stubStage{name: "b", log: &ran},
		stubStage{name: "c", log: &ran},
	)
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, ran)
}

func TestRunner_StopsOnError(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	r := etl.NewRunner(zerolog.Nop(), nil,
		stubStage{name: "a", log: &ran},
		stubStage{name: "b", err: boom, log: &ran},
		stubStage{name: "c", log: &ran},
	)
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "stage b: boom")
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestRunner_Cancelled(t *testing.T) {
	var ran []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := etl.NewRunner(zerolog.Nop(), nil, stubStage{name: "a", log: &ran})
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ran)
}

func TestRunner_SpanPerStage(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	var ran []string
	r := etl.NewRunner(zerolog.Nop(), nil,
		stubStage{name: "extract", log: &ran},
		stubStage{name: "transform", err: errors.New("bad row"), log: &ran},
	)
	require.Error(t, r.Run(context.Background()))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "etl.extract", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "etl.transform", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "bad row", spans[1].Status().Description)
}
