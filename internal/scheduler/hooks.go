package scheduler

import "log/slog"

// Hooks - необязательные хуки для наблюдаемости. Вызываются синхронно
// из воркера; паника в хуке логируется и не влияет на выполнение.
type Hooks struct {
	// OnStart вызывается перед первой попыткой выполнения.
	OnStart func(rec ExecutionRecord)
	// OnFinish вызывается для каждой финализированной записи, включая skipped.
	OnFinish func(rec ExecutionRecord)
}

func callHook(log *slog.Logger, name string, hook func(ExecutionRecord), rec ExecutionRecord) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("hook panicked", "hook", name, "task", rec.TaskID, "panic", r)
		}
	}()
	hook(rec)
}
