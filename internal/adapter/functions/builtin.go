// Package functions содержит встроенные функции для исполнителя function.
package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/shared"
)

const readPreviewChars = 1000

// Options настраивает встроенные функции.
type Options struct {
	// FileRoot ограничивает file_operations каталогом. Пустое значение снимает ограничение.
	FileRoot string
	// LookupEnv подменяет os.LookupEnv в тестах.
	LookupEnv func(key string) (string, bool)
}

// Register добавляет встроенные функции в реестр.
func Register(reg *executor.FunctionRegistry, opts Options) error {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	b := builtins{opts: opts}
	for id, fn := range map[string]executor.Func{
		"noop":            b.noop,
		"system_info":     b.systemInfo,
		"data_processing": b.dataProcessing,
		"file_operations": b.fileOperations,
	} {
		if err := reg.Register(id, fn); err != nil {
			return err
		}
	}
	return nil
}

type builtins struct {
	opts Options
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return shared.Errorf(shared.KindValidation, "invalid params: %v", err)
	}
	return nil
}

func (b builtins) noop(context.Context, json.RawMessage) ([]byte, error) {
	return []byte("ok"), nil
}

type systemInfoParams struct {
	InfoType string `json:"info_type"`
	VarName  string `json:"var_name"`
}

func (b builtins) systemInfo(_ context.Context, params json.RawMessage) ([]byte, error) {
	var p systemInfoParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	switch p.InfoType {
	case "", "basic":
		return fmt.Appendf(nil, "OS: %s, Arch: %s", runtime.GOOS, runtime.GOARCH), nil
	case "env":
		name := p.VarName
		if name == "" {
			name = "PATH"
		}
		v, ok := b.opts.LookupEnv(name)
		if !ok {
			return fmt.Appendf(nil, "Environment variable '%s' not found", name), nil
		}
		return fmt.Appendf(nil, "%s=%s", name, v), nil
	case "current_dir":
		dir, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get current directory: %w", err)
		}
		return fmt.Appendf(nil, "Current directory: %s", dir), nil
	}
	return nil, shared.Errorf(shared.KindValidation, "unknown info type %q", p.InfoType)
}

type dataProcessingParams struct {
	Operation string `json:"operation"`
	Data      []any  `json:"data"`
}

func (b builtins) dataProcessing(_ context.Context, params json.RawMessage) ([]byte, error) {
	var p dataProcessingParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	var numbers []float64
	for _, v := range p.Data {
		if f, ok := v.(float64); ok {
			numbers = append(numbers, f)
		}
	}
	sum := 0.0
	for _, f := range numbers {
		sum += f
	}

	switch p.Operation {
	case "", "count":
		return fmt.Appendf(nil, "Data count: %d", len(p.Data)), nil
	case "sum":
		return []byte("Data sum: " + strconv.FormatFloat(sum, 'f', -1, 64)), nil
	case "average":
		if len(numbers) == 0 {
			return []byte("No numeric data found"), nil
		}
		return fmt.Appendf(nil, "Data average: %.2f", sum/float64(len(numbers))), nil
	}
	return nil, shared.Errorf(shared.KindValidation, "unknown operation %q", p.Operation)
}

type fileOperationsParams struct {
	Operation string `json:"operation"`
	FilePath  string `json:"file_path"`
}

func (b builtins) fileOperations(_ context.Context, params json.RawMessage) ([]byte, error) {
	var p fileOperationsParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Operation == "" || p.FilePath == "" {
		return nil, shared.Errorf(shared.KindValidation, "operation and file_path are required")
	}
	path, err := b.resolve(p.FilePath)
	if err != nil {
		return nil, err
	}

	switch p.Operation {
	case "exists":
		_, err := os.Stat(path)
		return fmt.Appendf(nil, "File exists: %t", err == nil), nil
	case "size":
		st, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("get file size: %w", err)
		}
		return fmt.Appendf(nil, "File size: %d bytes", st.Size()), nil
	case "read":
		return readPreview(path)
	}
	return nil, shared.Errorf(shared.KindValidation, "unknown file operation %q", p.Operation)
}

// readPreview читает не больше readPreviewChars символов. Размер берётся из
// Stat, поэтому большой файл целиком в память не попадает.
func readPreview(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(f, readPreviewChars*utf8.UTFMax))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	content := []rune(string(data))
	if len(content) > readPreviewChars || st.Size() > int64(len(data)) {
		content = content[:min(len(content), readPreviewChars)]
		return fmt.Appendf(nil, "File content:\n%s... (truncated, total %d bytes)", string(content), st.Size()), nil
	}
	return []byte("File content:\n" + string(content)), nil
}

// resolve не даёт выйти за FileRoot, в том числе через символические ссылки.
func (b builtins) resolve(path string) (string, error) {
	if b.opts.FileRoot == "" {
		return path, nil
	}
	root, err := filepath.Abs(b.opts.FileRoot)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	realRoot := evalExisting(root)
	rel, err := filepath.Rel(realRoot, evalExisting(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", shared.Errorf(shared.KindValidation, "path %q is outside %s", path, root)
	}
	return path, nil
}

// evalExisting раскрывает ссылки в самом длинном существующем префиксе path.
func evalExisting(path string) string {
	var tail []string
	for p := path; ; p = filepath.Dir(p) {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...)
		}
		if filepath.Dir(p) == p {
			return path
		}
		tail = append([]string{filepath.Base(p)}, tail...)
	}
}
