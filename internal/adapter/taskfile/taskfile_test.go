package taskfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/shared"
)

const sample = `
tasks:
  - id: fetch-quotes
    name: Котировки
    schedule: "0 */5 * * * *"
    timeout: 30s
    retry:
      max_attempts: 3
      initial_delay: 1s
      max_delay: 10s
      multiplier: 2
    http:
      method: POST
      url: https://example.com/hooks/quotes
      headers: {Content-Type: application/json}
      body: '{"symbol":"000001"}'
  - id: cleanup
    schedule: "@daily"
    enabled: false
    shell:
      command: sh
      args: ["-c", "echo done"]
      env: {MODE: batch}
      kill_grace: 5s
  - id: sum
    schedule: "@hourly"
    function:
      name: data_processing
      params:
        operation: sum
        data: [1, 2, 3]
        nested: {deep: {value: 1}}
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Tasks, 3)

	assert.Equal(t, Duration(30*time.Second), f.Tasks[0].Timeout)
	assert.Equal(t, 3, f.Tasks[0].Retry.MaxAttempts)
	assert.Equal(t, "https://example.com/hooks/quotes", f.Tasks[0].HTTP.URL)
	require.NotNil(t, f.Tasks[1].Enabled)
	assert.False(t, *f.Tasks[1].Enabled)
	assert.Equal(t, Duration(5*time.Second), f.Tasks[1].Shell.KillGrace)
	assert.Equal(t, "data_processing", f.Tasks[2].Function.Name)
}

func TestParse_Empty(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Tasks)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"неизвестное поле", "tasks:\n  - id: a\n    schedule: '@hourly'\n    color: red\n    function: {name: noop}\n"},
		{"нет id", "tasks:\n  - schedule: '@hourly'\n    function: {name: noop}\n"},
		{"нет расписания", "tasks:\n  - id: a\n    function: {name: noop}\n"},
		{"нет исполнителя", "tasks:\n  - id: a\n    schedule: '@hourly'\n"},
		{"два исполнителя", "tasks:\n  - id: a\n    schedule: '@hourly'\n    function: {name: noop}\n    shell: {command: 'true'}\n"},
		{"плохая длительность", "tasks:\n  - id: a\n    schedule: '@hourly'\n    timeout: soon\n    function: {name: noop}\n"},
		{"плохой url", "tasks:\n  - id: a\n    schedule: '@hourly'\n    http: {url: 'not a url'}\n"},
		{"нет команды", "tasks:\n  - id: a\n    schedule: '@hourly'\n    shell: {args: [x]}\n"},
		{"max_attempts < 1", "tasks:\n  - id: a\n    schedule: '@hourly'\n    retry: {max_attempts: 0}\n    function: {name: noop}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "%v", err)
		})
	}
}

func TestParse_DuplicateID(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  - id: a\n    schedule: '@hourly'\n    function: {name: noop}\n  - id: a\n    schedule: '@daily'\n    function: {name: noop}\n"))
	assert.True(t, shared.IsDuplicateTaskID(err), "%v", err)
}

func TestDefinitions(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	defs, err := f.Definitions(Builder{Functions: executor.NewFunctionRegistry()})
	require.NoError(t, err)
	require.Len(t, defs, 3)

	httpDef := defs[0]
	assert.Equal(t, "Котировки", httpDef.Name)
	assert.True(t, httpDef.Enabled, "enabled по умолчанию true")
	assert.Equal(t, 30*time.Second, httpDef.Timeout)
	require.NotNil(t, httpDef.Retry)
	assert.Equal(t, 3, httpDef.Retry.MaxAttempts)
	assert.Equal(t, time.Second, httpDef.Retry.InitialDelay)
	assert.Equal(t, 2.0, httpDef.Retry.Multiplier)
	h, ok := httpDef.Executor.(*executor.HTTP)
	require.True(t, ok)
	assert.Equal(t, "POST", h.Config().Method)
	assert.JSONEq(t, `{"symbol":"000001"}`, string(h.Config().Body))

	assert.False(t, defs[1].Enabled)
	s, ok := defs[1].Executor.(*executor.Shell)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, s.Config().KillGrace)
	assert.Equal(t, map[string]string{"MODE": "batch"}, s.Config().Env)

	fn, ok := defs[2].Executor.(*executor.Function)
	require.True(t, ok)
	var params map[string]any
	require.NoError(t, json.Unmarshal(fn.Config().Params, &params))
	assert.Equal(t, "sum", params["operation"])
	assert.Equal(t, []any{1.0, 2.0, 3.0}, params["data"])
}

func TestDefinitions_FunctionRunsThroughRegistry(t *testing.T) {
	reg := executor.NewFunctionRegistry()
	reg.MustRegister("echo", func(_ context.Context, params json.RawMessage) ([]byte, error) {
		return params, nil
	})

	f, err := Parse([]byte("tasks:\n  - id: e\n    schedule: '@hourly'\n    function: {name: echo, params: {k: v}}\n"))
	require.NoError(t, err)
	defs, err := f.Definitions(Builder{Functions: reg})
	require.NoError(t, err)

	out := defs[0].Executor.Execute(context.Background())
	assert.Equal(t, executor.StatusSuccess, out.Status)
	assert.JSONEq(t, `{"k":"v"}`, string(out.Output))
}

func TestDefinitions_ExecutorValidation(t *testing.T) {
	f, err := Parse([]byte("tasks:\n  - id: bad\n    schedule: '@hourly'\n    http: {method: TRACE, url: 'http://example.com'}\n"))
	require.NoError(t, err)

	_, err = f.Definitions(Builder{Functions: executor.NewFunctionRegistry()})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), `task "bad"`)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Tasks, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
