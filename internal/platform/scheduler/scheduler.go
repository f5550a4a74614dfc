// Package scheduler は serve モードで同期を定期実行します。
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job は 1 回分の処理です。
type Job func(ctx context.Context) error

// Spec は実行間隔の指定です。Cron が空でなければ Interval より優先します。
type Spec struct {
	Interval   time.Duration
	Cron       string
	RunOnStart bool
}

// Scheduler は Job を定期実行します。前回の実行が終わっていない場合その回はスキップします。
type Scheduler struct {
	schedule   cron.Schedule
	job        Job
	runOnStart bool
	logger     zerolog.Logger
}

// New は Scheduler を生成します。
func New(spec Spec, job Job, logger zerolog.Logger) (*Scheduler, error) {
	var schedule cron.Schedule
	switch {
	case spec.Cron != "":
		parsed, err := cron.ParseStandard(spec.Cron)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse cron %q: %w", spec.Cron, err)
		}
		schedule = parsed
	case spec.Interval > 0:
		schedule = cron.Every(spec.Interval)
	default:
		return nil, fmt.Errorf("scheduler: interval or cron must be set")
	}

	return &Scheduler{schedule: schedule, job: job, runOnStart: spec.RunOnStart, logger: logger}, nil
}

// Run はコンテキストがキャンセルされるまで Job を実行し続けます。
// 停止時は実行中の Job の完了を待ちます。
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))

	wrapped := cron.FuncJob(func() {
		if err := s.job(ctx); err != nil {
			s.logger.Error().Err(err).Msg("scheduler: job failed")
		}
	})
	c.Schedule(s.schedule, wrapped)

	c.Start()
	if s.runOnStart {
		// 初回もチェーン経由で実行し、スケジュール実行と重ならないようにする
		c.Entries()[0].WrappedJob.Run()
	}

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Next は from 以降の次回実行時刻を返します。
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("scheduler: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("scheduler: " + msg)
}
