package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"pgroute/internal/engine"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func decode(t *testing.T, r Response) body {
	var b body
	require.NoError(t, json.Unmarshal([]byte(r.Body), &b))
	return b
}

func TestRespond(t *testing.T) {
	rep := engine.NewRunReport("req-1", "dblink")
	rep.Add(engine.CopyResult{Target: "eu", Table: "orders", Status: engine.StatusSuccess, Rows: 4})
	rep.Add(engine.CopyResult{Target: "eu", Table: "events", Status: engine.StatusWarning, Rows: 1})

	r := respond(zap.NewNop(), rep, nil, engine.FailOnError)
	assert.Equal(t, 200, r.StatusCode)
	b := decode(t, r)
	assert.Equal(t, "req-1", b.RunID)
	assert.False(t, b.Failed)
	assert.Equal(t, 5, int(b.Summary.Rows))

	r = respond(zap.NewNop(), rep, nil, engine.FailOnWarning)
	assert.Equal(t, 500, r.StatusCode)

	r = respond(zap.NewNop(), engine.NewRunReport("req-2", "dblink"), errors.New("source unreachable"), engine.FailNever)
	assert.Equal(t, 500, r.StatusCode)
	assert.Equal(t, "source unreachable", decode(t, r).Error)
}

func TestRespond_EncodeFailure(t *testing.T) {
	marshal = func(any) ([]byte, error) { return nil, errors.New("unsupported value") }
	t.Cleanup(func() { marshal = json.Marshal })

	core, logs := observer.New(zapcore.ErrorLevel)
	r := respond(zap.New(core), engine.NewRunReport("req-3", "dblink"), nil, engine.FailOnError)

	assert.Equal(t, 500, r.StatusCode)
	assert.True(t, decode(t, r).Failed)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "failed to encode response body", logs.All()[0].Message)
}

func TestHandler_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgroute.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source: {name: app}\n"), 0o600))
	t.Setenv("PGROUTE_CONFIG", path)

	r, err := handler(context.Background(), Event{})
	require.NoError(t, err)
	assert.Equal(t, 500, r.StatusCode)
	assert.Contains(t, decode(t, r).Error, "invalid config")
}
