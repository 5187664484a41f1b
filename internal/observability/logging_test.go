package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
)

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func restoreTracerProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInstrumentText(t *testing.T) {
	restoreDefaultLogger(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), slog.LevelInfo, "text", ExporterNone, WithOutput(&buf))
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	slog.Debug("hidden")
	slog.Info("token issued", "account", "tester")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=\"token issued\" account=tester")
}

func TestInstrumentJSON(t *testing.T) {
	restoreDefaultLogger(t)
	var buf bytes.Buffer

	_, err := Instrument(context.Background(), slog.LevelDebug, "json", "", WithOutput(&buf))
	require.NoError(t, err)

	slog.Debug("discovered provider configuration", "issuer", "https://login.example.com")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "https://login.example.com", entry["issuer"])
}

func TestInstrumentStdoutExporter(t *testing.T) {
	restoreDefaultLogger(t)
	restoreTracerProvider(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), slog.LevelWarn, "text", ExporterStdout, WithOutput(&buf))
	require.NoError(t, err)

	slog.Info("below threshold")
	slog.Warn("provider logout failed", "account", "tester")
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "provider logout failed")
	assert.NotContains(t, buf.String(), "below threshold")
}

func TestInstrumentExportsSpans(t *testing.T) {
	restoreDefaultLogger(t)
	restoreTracerProvider(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), slog.LevelInfo, "text", ExporterStdout, WithOutput(&buf))
	require.NoError(t, err)

	_, span := otel.Tracer("github.com/florianilch/realmauth/internal/auth").Start(context.Background(), "auth.token_exchange")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"auth.token_exchange"`)
	assert.Contains(t, buf.String(), `"Value":"realmauth"`)
}

func TestInstrumentWithoutExporterRecordsNoSpans(t *testing.T) {
	restoreDefaultLogger(t)
	restoreTracerProvider(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), slog.LevelInfo, "text", ExporterNone, WithOutput(&buf))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "auth.login")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.NotContains(t, buf.String(), "auth.login")
}

func TestInstrumentRejectsUnknownValues(t *testing.T) {
	restoreDefaultLogger(t)

	_, err := Instrument(context.Background(), slog.LevelInfo, "xml", ExporterNone)
	assert.Error(t, err)

	_, err = Instrument(context.Background(), slog.LevelInfo, "text", "zipkin")
	assert.Error(t, err)
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, minsev.SeverityDebug, severity(slog.LevelDebug-4))
	assert.Equal(t, minsev.SeverityInfo, severity(slog.LevelInfo))
	assert.Equal(t, minsev.SeverityWarn, severity(slog.LevelWarn))
	assert.Equal(t, minsev.SeverityError, severity(slog.LevelError+4))
}
