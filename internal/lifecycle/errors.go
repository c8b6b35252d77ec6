package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Armada/internal/domain"
)

// Step — шаг провижининга, на котором произошла ошибка.
type Step string

const (
	StepLaunch    Step = "launch"
	StepBase      Step = "base_provisioning"
	StepService   Step = "service_install"
	StepConfigure Step = "configure"
	StepStart     Step = "start_service"
	StepRemove    Step = "remove"
)

// Ошибки контроллера.
var (
	// ErrAlreadyProvisioning — провижининг узла уже идёт.
	ErrAlreadyProvisioning = errors.New("node is already being provisioned")

	// ErrNotHealthy — операция требует состояния HEALTHY.
	ErrNotHealthy = errors.New("node is not healthy")

	// ErrInvalidTransition — недопустимый переход состояния.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// LaunchTimeoutError — контейнер не стал готов за отведённое время.
type LaunchTimeoutError struct {
	NodeID   string
	Timeout  time.Duration
	Attempts int
	Err      error
}

func (e *LaunchTimeoutError) Error() string {
	return fmt.Sprintf("node %s: not ready after %d attempts (timeout %s): %v", e.NodeID, e.Attempts, e.Timeout, e.Err)
}

func (e *LaunchTimeoutError) Unwrap() error { return e.Err }

// EndpointDiscoveryError — runtime не назначил адрес узлу.
// Контейнер остаётся запущенным, но зависимые узлы не могут его использовать.
type EndpointDiscoveryError struct {
	NodeID   string
	Attempts int
	Err      error
}

func (e *EndpointDiscoveryError) Error() string {
	return fmt.Sprintf("node %s: endpoint not discovered after %d attempts: %v", e.NodeID, e.Attempts, e.Err)
}

func (e *EndpointDiscoveryError) Unwrap() error { return e.Err }

// ProvisionStepError — шаг провижининга не удался после всех попыток.
// Err содержит исходную ошибку инструмента (с его выводом).
type ProvisionStepError struct {
	NodeID   string
	Step     Step
	Attempts int
	Err      error
}

func (e *ProvisionStepError) Error() string {
	return fmt.Sprintf("node %s: %s failed after %d attempts: %v", e.NodeID, e.Step, e.Attempts, e.Err)
}

func (e *ProvisionStepError) Unwrap() error { return e.Err }

// DependencyNotHealthyError — зависимость узла не в состоянии HEALTHY.
type DependencyNotHealthyError struct {
	NodeID     string
	Dependency string
	State      domain.LifecycleState
	Err        error
}

func (e *DependencyNotHealthyError) Error() string {
	msg := fmt.Sprintf("node %s: dependency %s is not healthy", e.NodeID, e.Dependency)
	if e.State != "" {
		msg += " (state " + string(e.State) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DependencyNotHealthyError) Unwrap() error { return e.Err }
