package cli

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	require.NoError(t, w.Close())
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestFinishRendersSuccessResult(t *testing.T) {
	var err error
	out := captureStdout(t, func() {
		err = finish(jsonFormat, "snapshot written to /tmp/esx-01.json", nil)
	})
	require.NoError(t, err)

	var res Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "snapshot written to /tmp/esx-01.json", res.Message)
}

func TestFinishRendersFailureAndPassesErrorThrough(t *testing.T) {
	boom := errors.New("platform fault")

	var err error
	out := captureStdout(t, func() {
		err = finish("", "never shown", boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, out, "Error: platform fault")
}

func TestFinishRendersFailureAsYAML(t *testing.T) {
	var err error
	out := captureStdout(t, func() {
		err = finish(yamlFormat, "", errors.New("host unreachable"))
	})
	require.Error(t, err)
	assert.Contains(t, out, "success: false")
	assert.Contains(t, out, "message: host unreachable")
}

func TestValidateOutputFormat(t *testing.T) {
	assert.NoError(t, validateOutputFormat(""))
	assert.NoError(t, validateOutputFormat(jsonFormat))
	assert.NoError(t, validateOutputFormat(yamlFormat))
	assert.Error(t, validateOutputFormat("xml"))
}
