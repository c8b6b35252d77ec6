package engine

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Armada/internal/domain"
)

// LoadTopology читает описание флота из файла (YAML или JSON).
func LoadTopology(path string) (*domain.TopologySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	return ParseTopology(data)
}

// ParseTopology парсит описание флота.
//
// JSON является подмножеством YAML, поэтому поддерживаются оба формата.
// Неизвестные поля считаются ошибкой.
func ParseTopology(data []byte) (*domain.TopologySpec, error) {
	var spec domain.TopologySpec

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}

	if err := Validate(&spec); err != nil {
		return nil, err
	}

	return &spec, nil
}

// Validate выполняет полную валидацию TopologySpec.
//
// Проверяет:
// - Наличие узлов
// - Уникальность ID узлов
// - Корректность ролей
// - Валидность зависимостей (depends_on)
// - Что шаблоны ссылаются только на endpoint объявленных зависимостей
//
// Циклы проверяются при построении графа (BuildTopology).
func Validate(spec *domain.TopologySpec) error {
	if spec == nil || len(spec.Nodes) == 0 {
		return ErrEmptyTopology
	}

	nodeIDs := make(map[string]bool, len(spec.Nodes))

	for i := range spec.Nodes {
		if err := ValidateNode(&spec.Nodes[i], nodeIDs); err != nil {
			return err
		}
	}

	return validateDependencies(spec.Nodes, nodeIDs)
}

// ValidateNode валидирует один узел.
// nodeIDs — уже встреченные ID узлов (для проверки уникальности).
func ValidateNode(node *domain.Node, nodeIDs map[string]bool) error {
	if node.ID == "" {
		return NewValidationError("", "id", "node has empty ID", ErrEmptyNodeID)
	}

	if nodeIDs[node.ID] {
		return NewValidationError(node.ID, "id",
			fmt.Sprintf("duplicate node ID: %s", node.ID), ErrDuplicateNodeID)
	}
	nodeIDs[node.ID] = true

	if !node.Role.IsValid() {
		return NewValidationError(node.ID, "role",
			fmt.Sprintf("unknown role: %q", node.Role), ErrUnknownRole)
	}

	// Петля a → a — вырожденный цикл.
	for _, dep := range node.DependsOn {
		if dep == node.ID {
			return &CycleError{Path: []string{node.ID, node.ID}}
		}
	}

	return nil
}

// validateDependencies проверяет, что все depends_on ссылаются на объявленные узлы,
// а шаблоны desired_config — только на зависимости узла.
func validateDependencies(nodes []domain.Node, nodeIDs map[string]bool) error {
	for i := range nodes {
		node := &nodes[i]

		deps := make(map[string]bool, len(node.DependsOn))
		for _, dep := range node.DependsOn {
			if !nodeIDs[dep] {
				return &UnknownDependencyError{NodeID: node.ID, Dependency: dep}
			}
			deps[dep] = true
		}

		for key, tmpl := range node.DesiredConfig {
			for _, ref := range Placeholders(tmpl) {
				if !deps[ref] {
					return NewValidationError(node.ID, "desired_config."+key,
						fmt.Sprintf("endpoint(%s) is not in depends_on", ref), ErrUndeclaredEndpoint)
				}
			}
		}
	}

	return nil
}
