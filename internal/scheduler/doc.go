// Package scheduler запускает периодические проверки здоровья флота.
//
// Scheduler по cron-расписанию (ARMADA_HEALTH_SCHEDULE) вызывает
// Fleet Health Reporter и публикует по событию health_report на каждый
// узел. Метрики armada_node_healthy обновляются подписчиком событий.
//
// Структура:
//   - scheduler.go — Scheduler (Start, Stop, Sweep)
//   - cron.go      — парсинг расписания и адаптер логгера cron
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Schedule: "@every 1m",
//	    Fleet:    orch,
//	    Reporter: reporter,
//	    Sink:     sink,
//	    Logger:   logger,
//	})
//	sched.Start(ctx)
//	defer sched.Stop()
package scheduler
