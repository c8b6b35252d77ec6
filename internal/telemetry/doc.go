// Package telemetry обеспечивает наблюдаемость деплойера и guard.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики, обновляемые из потока событий
//
// Все бинарники используют единый формат логирования, деплойер
// экспортирует метрики на /metrics.
package telemetry
