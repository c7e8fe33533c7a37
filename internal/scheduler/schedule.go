package scheduler

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskscheduler/internal/shared"
)

// Парсер принимает пять полей или шесть с необязательными секундами,
// а также дескрипторы вида @hourly и @every 5m.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule - разобранное cron-выражение.
type Schedule struct {
	expr  string
	sched cron.Schedule
}

// ParseSchedule разбирает выражение в локальной временной зоне.
func ParseSchedule(expr string) (Schedule, error) {
	return ParseScheduleIn(expr, nil)
}

// ParseScheduleIn разбирает выражение в зоне loc. Префикс CRON_TZ= или TZ=
// в самом выражении имеет приоритет над loc.
//
// Выражение, у которого нет ни одного срабатывания (например, 30 февраля),
// отклоняется с ошибкой InvalidSchedule.
func ParseScheduleIn(expr string, loc *time.Location) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, shared.Errorf(shared.KindInvalidSchedule, "empty expression")
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, shared.Errorf(shared.KindInvalidSchedule, "%q: %v", expr, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok && loc != nil && !hasTZPrefix(expr) {
		spec.Location = loc
	}

	// robfig/cron возвращает нулевое время, если за пять лет совпадений нет
	if sched.Next(time.Now()).IsZero() {
		return Schedule{}, shared.Errorf(shared.KindInvalidSchedule, "%q never fires", expr)
	}

	return Schedule{expr: expr, sched: sched}, nil
}

// MustParseSchedule - ParseSchedule, паникующий при ошибке.
func MustParseSchedule(expr string) Schedule {
	s, err := ParseSchedule(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Next возвращает ближайшее срабатывание строго после from.
// false означает, что срабатываний больше не будет.
func (s Schedule) Next(from time.Time) (time.Time, bool) {
	if s.sched == nil {
		return time.Time{}, false
	}
	next := s.sched.Next(from)
	if next.IsZero() || !next.After(from) {
		return time.Time{}, false
	}
	return next, true
}

// String возвращает исходное выражение.
func (s Schedule) String() string { return s.expr }

func hasTZPrefix(expr string) bool {
	return strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=")
}
