// Package api содержит HTTP API оператора флота.
//
// Структура:
//   - handler.go       — Handler с DI (оркестратор, health, журнал событий, очередь команд)
//   - routes.go        — регистрация маршрутов
//   - middleware.go    — middleware (logging, recovery, метрики запросов)
//   - response.go      — унифицированные JSON-ответы и обработка ошибок
//   - dto.go           — Data Transfer Objects (request/response)
//   - fleet_handler.go — обработчики для /fleet
//   - node_handler.go  — обработчики для /nodes/{id}
//   - event_handler.go — обработчики для /events
//
// Команды deploy/retry/stop выполняются в запросе либо, если настроена
// очередь fleet.commands, публикуются в неё и возвращают 202.
package api
