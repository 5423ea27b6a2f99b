package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleTaskRepeating runs task every interval until Stop is called.
	ScheduleTaskRepeating(interval time.Duration, task func()) error
}
