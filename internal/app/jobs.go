package app

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zapmirror/zapmirror/internal/domain"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@daily", func() {
		a.SchedClearDeadJobs()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedClearDeadJobs purges webhook jobs that exhausted their retries and
// outlived the retention window.
func (a *Application) SchedClearDeadJobs() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	keepDays := a.appConfig.Sync.DeadJobKeepDays
	if keepDays <= 0 {
		keepDays = 7
	}
	a.gormDB.
		Where("status = ? AND updated_at < ?", domain.JobStatusDead,
			time.Now().Add(-time.Hour*24*time.Duration(keepDays))).
		Delete(&domain.WebhookJob{})
}
