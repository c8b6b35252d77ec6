package domain

// LifecycleState — состояние узла флота.
//
// Жизненный цикл:
//
//	ABSENT → LAUNCHING → WAITING_READY → BASE_PROVISIONING → SERVICE_INSTALLING → CONFIGURING → HEALTHY
//	              ↘ FAILED (из любого промежуточного состояния)
//	FAILED → LAUNCHING (только по явной команде retry)
//	* → REMOVING → ABSENT (остановка узла)
type LifecycleState string

const (
	// StateAbsent — контейнер не существует.
	StateAbsent LifecycleState = "ABSENT"

	// StateLaunching — контейнер создаётся и запускается.
	StateLaunching LifecycleState = "LAUNCHING"

	// StateWaitingReady — контейнер запущен, ожидаем маркер загрузки и адрес.
	StateWaitingReady LifecycleState = "WAITING_READY"

	// StateBaseProvisioning — установка общих для всех узлов пакетов.
	StateBaseProvisioning LifecycleState = "BASE_PROVISIONING"

	// StateServiceInstalling — установка/сборка сервиса роли.
	StateServiceInstalling LifecycleState = "SERVICE_INSTALLING"

	// StateConfiguring — рендеринг и применение конфигурации.
	StateConfiguring LifecycleState = "CONFIGURING"

	// StateHealthy — сервис запущен, узел передан guard-циклу.
	StateHealthy LifecycleState = "HEALTHY"

	// StateFailed — узел не удалось довести до HEALTHY.
	StateFailed LifecycleState = "FAILED"

	// StateRemoving — узел останавливается и удаляется.
	StateRemoving LifecycleState = "REMOVING"
)

// transitions — допустимые переходы между состояниями.
var transitions = map[LifecycleState][]LifecycleState{
	StateAbsent:            {StateLaunching},
	StateLaunching:         {StateWaitingReady, StateFailed, StateRemoving},
	StateWaitingReady:      {StateBaseProvisioning, StateFailed, StateRemoving},
	StateBaseProvisioning:  {StateServiceInstalling, StateFailed, StateRemoving},
	StateServiceInstalling: {StateConfiguring, StateFailed, StateRemoving},
	StateConfiguring:       {StateHealthy, StateFailed, StateRemoving},
	StateHealthy:           {StateRemoving},
	StateFailed:            {StateLaunching, StateRemoving},
	StateRemoving:          {StateAbsent, StateFailed},
}

// AllStates возвращает все состояния жизненного цикла в порядке провижининга.
func AllStates() []LifecycleState {
	return []LifecycleState{
		StateAbsent, StateLaunching, StateWaitingReady, StateBaseProvisioning,
		StateServiceInstalling, StateConfiguring, StateHealthy, StateFailed, StateRemoving,
	}
}

// CanTransitionTo проверяет, допустим ли переход s → to.
func (s LifecycleState) CanTransitionTo(to LifecycleState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true, если провижининг завершён (успешно или нет).
func (s LifecycleState) IsTerminal() bool {
	switch s {
	case StateHealthy, StateFailed:
		return true
	default:
		return false
	}
}

// IsInProgress возвращает true для промежуточных состояний провижининга.
func (s LifecycleState) IsInProgress() bool {
	switch s {
	case StateLaunching, StateWaitingReady, StateBaseProvisioning,
		StateServiceInstalling, StateConfiguring:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление LifecycleState.
func (s LifecycleState) String() string {
	return string(s)
}

// ParseLifecycleState парсит строку в LifecycleState.
// Неизвестные значения трактуются как ABSENT.
func ParseLifecycleState(s string) LifecycleState {
	switch LifecycleState(s) {
	case StateLaunching, StateWaitingReady, StateBaseProvisioning,
		StateServiceInstalling, StateConfiguring, StateHealthy,
		StateFailed, StateRemoving:
		return LifecycleState(s)
	default:
		return StateAbsent
	}
}

// GuardState — состояние resolver-конфигурации узла с точки зрения guard.
//
//	CONVERGED ⇄ DRIFTED
type GuardState string

const (
	// GuardConverged — наблюдаемая конфигурация совпадает с желаемой.
	GuardConverged GuardState = "CONVERGED"

	// GuardDrifted — обнаружен дрейф, коррекция не удалась или ещё не выполнена.
	GuardDrifted GuardState = "DRIFTED"
)
