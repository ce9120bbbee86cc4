package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	obs := NewLogObserver(logger)
	cmd := &Command{Kind: CommandText, Operation: OpSelect, Text: "SELECT 1"}

	obs.CommandCompleted(CompletionEvent{Command: cmd, Shape: ShapeQuery, Rows: 3, Duration: time.Millisecond})
	obs.CommandCompleted(CompletionEvent{Command: cmd, Shape: ShapeScalar, Err: errors.New("boom")})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var ok, failed map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &ok))
	require.NoError(t, json.Unmarshal(lines[1], &failed))

	assert.Equal(t, "debug", ok["level"])
	assert.Equal(t, "SELECT 1", ok["SQL"])
	assert.Equal(t, float64(3), ok["rows"])

	assert.Equal(t, "error", failed["level"])
	assert.Equal(t, "boom", failed["error"])
	assert.Equal(t, "command failed", failed["message"])
}

func TestFuture(t *testing.T) {
	release := make(chan struct{})
	f := runAsync(func() (int, error) {
		<-release
		return 42, nil
	})

	select {
	case <-f.Done():
		t.Fatal("future completed before its work")
	default:
	}

	close(release)
	v, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	failed := runAsync(func() (string, error) { return "", errors.New("nope") })
	_, err = failed.Wait()
	assert.EqualError(t, err, "nope")
}
