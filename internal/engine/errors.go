package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки валидации TopologySpec.
var (
	// ErrEmptyTopology — топология не содержит узлов.
	ErrEmptyTopology = errors.New("topology has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownRole — неизвестная роль узла.
	ErrUnknownRole = errors.New("unknown node role")

	// ErrMissingDependency — узел зависит от необъявленного узла.
	ErrMissingDependency = errors.New("node depends on unknown node")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrUndeclaredEndpoint — шаблон ссылается на endpoint узла,
	// которого нет в depends_on.
	ErrUndeclaredEndpoint = errors.New("template references endpoint of undeclared dependency")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// UnknownDependencyError — depends_on ссылается на необъявленный узел.
type UnknownDependencyError struct {
	NodeID     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("node %s: depends on unknown node %s", e.NodeID, e.Dependency)
}

// Unwrap позволяет errors.Is(err, ErrMissingDependency).
func (e *UnknownDependencyError) Unwrap() error {
	return ErrMissingDependency
}

// CycleError — в зависимостях есть цикл.
// Path содержит узлы цикла, первый узел повторяется в конце: a → b → a.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCyclicDependency.Error()
	}
	return ErrCyclicDependency.Error() + ": " + strings.Join(e.Path, " -> ")
}

// Unwrap позволяет errors.Is(err, ErrCyclicDependency).
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}
