// Package engine содержит модель топологии флота.
//
// Включает:
//   - parser.go   — загрузка и валидация TopologySpec из YAML/JSON
//   - dag.go      — граф зависимостей узлов и топологический порядок
//   - template.go — рендеринг desired_config ({{endpoint(postgres)}})
//
// Engine отвечает за понимание структуры флота и определение
// порядка развёртывания узлов на основе их зависимостей.
package engine
