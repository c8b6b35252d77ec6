package orchestrator

import (
	"errors"
	"fmt"
)

// Ошибки оркестратора.
var (
	// ErrNoTopology — топология ещё не загружена.
	ErrNoTopology = errors.New("no topology loaded")

	// ErrUnknownNode — узла нет в топологии.
	ErrUnknownNode = errors.New("unknown node")

	// ErrDeployInProgress — деплой флота уже идёт.
	ErrDeployInProgress = errors.New("fleet deployment already in progress")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")

	// ErrDeployCancelled — деплой прерван до запуска узла.
	ErrDeployCancelled = errors.New("deployment cancelled before node was started")

	// ErrNoReconciliation — у узла нет записи guard (guard выключен или ещё не тикал).
	ErrNoReconciliation = errors.New("no reconciliation record")
)

// BlockedByDependencyError — узел не запускался, потому что его зависимость
// (прямая или транзитивная) провалилась.
type BlockedByDependencyError struct {
	NodeID     string
	Dependency string
	Err        error
}

func (e *BlockedByDependencyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("node %s: blocked by dependency %s", e.NodeID, e.Dependency)
	}
	return fmt.Sprintf("node %s: blocked by dependency %s: %v", e.NodeID, e.Dependency, e.Err)
}

func (e *BlockedByDependencyError) Unwrap() error { return e.Err }
