package scheduler

import "time"

// Clock - источник текущего времени. В тестах подменяется.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
