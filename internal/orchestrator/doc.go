// Package orchestrator разворачивает флот узлов.
//
// Orchestrator отвечает за:
//   - Построение графа зависимостей и отказ от некорректной топологии до любых действий
//   - Запуск узлов, как только все их зависимости HEALTHY
//   - Параллельный провижининг независимых ветвей
//   - Блокировку транзитивных зависимых упавшего узла
//   - Перенастройку зависимых при смене адреса узла
//   - Передачу HEALTHY узлов guard-циклу
//   - Команды оператора: deploy, retry, stop (API и очередь fleet.commands)
//
// Провал узла никогда не прерывает деплой целиком: итог каждого узла
// попадает в FleetDeployResult.
package orchestrator
