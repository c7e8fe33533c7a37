// Package scheduler реализует движок планирования задач по cron-расписанию.
//
// Service владеет реестром задач и собственным циклом тиков. На каждом тике
// задачи, время которых наступило, отправляются в ограниченный пул воркеров,
// где выполняются через executor.Executor. Результат каждого запуска
// записывается в HistoryStore в виде ExecutionRecord.
//
// Гарантии:
//   - у задачи не больше одного выполнения одновременно; если задача ещё
//     работает к следующему срабатыванию, пишется запись со статусом skipped;
//   - следующий запуск пересчитывается от момента срабатывания, а при отставании
//     процесса от текущего времени, поэтому пропущенные слоты не накапливаются;
//   - при переполнении пула next_run_at не сдвигается, задача будет отправлена
//     на следующем тике;
//   - каждое отправленное выполнение финализируется ровно один раз.
//
// Пример:
//
//	svc := scheduler.New(scheduler.Options{Logger: log, PoolSize: 4})
//	err := svc.Register(scheduler.Definition{
//	    ID:       "refresh-quotes",
//	    Schedule: "0 */5 * * * *",
//	    Executor: httpExec,
//	    Enabled:  true,
//	})
//	svc.Start(ctx)
//	defer svc.Stop(context.Background())
package scheduler
