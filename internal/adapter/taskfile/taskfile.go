// Package taskfile загружает задачи из YAML-файла при старте.
//
//	tasks:
//	  - id: fetch-quotes
//	    schedule: "0 */5 * * * *"
//	    timeout: 30s
//	    retry: {max_attempts: 3, initial_delay: 1s}
//	    http:
//	      method: POST
//	      url: https://example.com/hooks/quotes
//	  - id: cleanup
//	    schedule: "@daily"
//	    shell: {command: /usr/local/bin/cleanup.sh, args: ["--dry-run"]}
//	  - id: disk-check
//	    schedule: "@hourly"
//	    function: {name: file_operations, params: {operation: exists, file_path: /data}}
package taskfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	yaml "go.yaml.in/yaml/v3"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/platform/httpclient"
	"taskscheduler/internal/scheduler"
	"taskscheduler/internal/shared"
	"taskscheduler/pkg/retry"
)

var validate = validator.New()

// Duration принимает строки вида "30s" или "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// File - содержимое файла задач.
type File struct {
	Tasks []Task `yaml:"tasks" validate:"dive"`
}

// Task описывает одну задачу. Должен быть задан ровно один из http, shell, function.
type Task struct {
	ID       string    `yaml:"id" validate:"required"`
	Name     string    `yaml:"name"`
	Schedule string    `yaml:"schedule" validate:"required"`
	Enabled  *bool     `yaml:"enabled"`
	Timeout  Duration  `yaml:"timeout" validate:"gte=0"`
	Retry    *Retry    `yaml:"retry"`
	HTTP     *HTTP     `yaml:"http"`
	Shell    *Shell    `yaml:"shell"`
	Function *Function `yaml:"function"`
}

type Retry struct {
	MaxAttempts  int      `yaml:"max_attempts" validate:"gte=1"`
	InitialDelay Duration `yaml:"initial_delay" validate:"gte=0"`
	MaxDelay     Duration `yaml:"max_delay" validate:"gte=0"`
	Multiplier   float64  `yaml:"multiplier" validate:"omitempty,gte=1"`
}

type HTTP struct {
	Method       string            `yaml:"method"`
	URL          string            `yaml:"url" validate:"required,url"`
	Headers      map[string]string `yaml:"headers"`
	Body         string            `yaml:"body"`
	Timeout      Duration          `yaml:"timeout" validate:"gte=0"`
	Retries      int               `yaml:"retries" validate:"gte=0"`
	MaxBodyBytes int               `yaml:"max_body_bytes" validate:"gte=0"`
}

type Shell struct {
	Command        string            `yaml:"command" validate:"required"`
	Args           []string          `yaml:"args"`
	Dir            string            `yaml:"dir"`
	Env            map[string]string `yaml:"env"`
	Timeout        Duration          `yaml:"timeout" validate:"gte=0"`
	KillGrace      Duration          `yaml:"kill_grace" validate:"gte=0"`
	MaxOutputBytes int               `yaml:"max_output_bytes" validate:"gte=0"`
}

type Function struct {
	Name   string         `yaml:"name" validate:"required"`
	Params map[string]any `yaml:"params"`
}

// Load читает и проверяет файл задач.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse разбирает YAML. Неизвестные поля считаются ошибкой.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, shared.Errorf(shared.KindValidation, "parse task file: %v", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, shared.Errorf(shared.KindValidation, "task file: %v", err)
	}

	seen := make(map[string]struct{}, len(f.Tasks))
	for _, t := range f.Tasks {
		if _, dup := seen[t.ID]; dup {
			return nil, shared.Errorf(shared.KindDuplicateTaskID, "%s", t.ID)
		}
		seen[t.ID] = struct{}{}

		n := 0
		for _, set := range []bool{t.HTTP != nil, t.Shell != nil, t.Function != nil} {
			if set {
				n++
			}
		}
		if n != 1 {
			return nil, shared.Errorf(shared.KindValidation, "task %q: exactly one of http, shell, function is required", t.ID)
		}
	}
	return &f, nil
}

// Builder собирает исполнителей для задач из файла.
type Builder struct {
	Functions   *executor.FunctionRegistry
	HTTPOptions []httpclient.Option
}

// Definitions превращает задачи файла в определения для планировщика.
func (f *File) Definitions(b Builder) ([]scheduler.Definition, error) {
	defs := make([]scheduler.Definition, 0, len(f.Tasks))
	for _, t := range f.Tasks {
		ex, err := b.executor(t)
		if err != nil {
			return nil, shared.Wrapf(err, "task %q", t.ID)
		}
		def := scheduler.Definition{
			ID:       t.ID,
			Name:     t.Name,
			Schedule: t.Schedule,
			Executor: ex,
			Enabled:  t.Enabled == nil || *t.Enabled,
			Timeout:  time.Duration(t.Timeout),
		}
		if t.Retry != nil {
			def.Retry = &retry.Policy{
				MaxAttempts:  t.Retry.MaxAttempts,
				InitialDelay: time.Duration(t.Retry.InitialDelay),
				MaxDelay:     time.Duration(t.Retry.MaxDelay),
				Multiplier:   t.Retry.Multiplier,
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (b Builder) executor(t Task) (executor.Executor, error) {
	switch {
	case t.HTTP != nil:
		h := t.HTTP
		var body []byte
		if h.Body != "" {
			body = []byte(h.Body)
		}
		return executor.NewHTTP(executor.HTTPConfig{
			Method:       h.Method,
			URL:          h.URL,
			Headers:      h.Headers,
			Body:         body,
			Timeout:      time.Duration(h.Timeout),
			Retries:      h.Retries,
			MaxBodyBytes: h.MaxBodyBytes,
		}, b.HTTPOptions...)
	case t.Shell != nil:
		s := t.Shell
		return executor.NewShell(executor.ShellConfig{
			Command:        s.Command,
			Args:           s.Args,
			Dir:            s.Dir,
			Env:            s.Env,
			Timeout:        time.Duration(s.Timeout),
			KillGrace:      time.Duration(s.KillGrace),
			MaxOutputBytes: s.MaxOutputBytes,
		})
	default:
		var params json.RawMessage
		if len(t.Function.Params) > 0 {
			raw, err := json.Marshal(normalizeYAML(t.Function.Params))
			if err != nil {
				return nil, shared.Errorf(shared.KindValidation, "params: %v", err)
			}
			params = raw
		}
		return executor.NewFunction(b.Functions, executor.FunctionConfig{Function: t.Function.Name, Params: params})
	}
}

// normalizeYAML приводит ключи вложенных map к строкам, иначе json.Marshal упадёт.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
