// Package cli реализует инструмент командной строки armada.
//
// # Обзор
//
// CLI — клиентская утилита для оператора флота. Работает через HTTP API
// деплойера и не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API деплойера. Инкапсулирует запросы, парсинг ответов
// (DataResponse, ListResponse, ErrorResponse) и обработку ошибок.
// Команды deploy/retry/stop возвращают либо результат, либо
// подтверждение постановки в очередь (HTTP 202).
//
//	client := cli.NewClient("http://localhost:8090", "ops")
//	fleet, err := client.ListNodes()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr:
// armada fleet status --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - fleet: status, health, deploy, history
//   - node: show, retry, stop, guard
//   - events: list
//
// Каждая группа создаётся фабричной функцией (NewFleetCmd и т.д.),
// принимающей clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
