package history

import (
	"fmt"
	"strings"

	"taskscheduler/internal/scheduler"
)

// whereClause собирает условия фильтра. placeholder возвращает плейсхолдер
// для n-го аргумента (1-based), conv приводит время к формату бэкенда.
func whereClause(q scheduler.HistoryQuery, placeholder func(n int) string, conv func(v any) any) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, conv(v))
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}

	if q.TaskID != "" {
		add("task_id = %s", q.TaskID)
	}
	if !q.Since.IsZero() {
		add("scheduled_at >= %s", q.Since)
	}
	if !q.Until.IsZero() {
		add("scheduled_at < %s", q.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const selectColumns = `SELECT id, task_id, trigger_kind, scheduled_at, started_at, finished_at, status, error_message, output, attempts FROM executions`

// При равном времени раньше идёт запись, вставленная последней: в SQLite
// порядок вставки дает rowid, в PostgreSQL столбец seq.
const (
	sqliteOrderNewestFirst   = ` ORDER BY scheduled_at DESC, finished_at DESC, rowid DESC`
	postgresOrderNewestFirst = ` ORDER BY scheduled_at DESC, finished_at DESC, seq DESC`
)
