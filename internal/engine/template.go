package engine

import (
	"bytes"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"text/template"
)

// EndpointLookup возвращает адрес узла по его ID.
// Реализуется поверх Endpoint Registry.
type EndpointLookup func(nodeID string) (string, error)

// placeholderRe находит вызовы endpoint(nodeId) внутри {{ }}.
// ID может быть в кавычках или без них: endpoint(postgres), endpoint("postgres").
var placeholderRe = regexp.MustCompile(`endpoint\(\s*"?([A-Za-z0-9_.\-]+)"?\s*\)`)

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val string) string {
		if val == "" {
			return def
		}
		return val
	},

	// join — объединяет слайс строк
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	// split — разбивает строку на слайс
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},

	// contains — проверяет, содержит ли строка подстроку
	"contains": strings.Contains,

	// hasPrefix — проверяет префикс строки
	"hasPrefix": strings.HasPrefix,

	// hasSuffix — проверяет суффикс строки
	"hasSuffix": strings.HasSuffix,

	// lower — приводит к нижнему регистру
	"lower": strings.ToLower,

	// upper — приводит к верхнему регистру
	"upper": strings.ToUpper,

	// trim — удаляет пробелы по краям
	"trim": strings.TrimSpace,

	// replace — заменяет подстроку
	"replace": strings.ReplaceAll,
}

// Placeholders возвращает ID узлов, на endpoint которых ссылается шаблон,
// без повторов, в порядке первого появления.
func Placeholders(tmpl string) []string {
	if !strings.Contains(tmpl, "{{") {
		return nil
	}

	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !slices.Contains(out, m[1]) {
			out = append(out, m[1])
		}
	}
	return out
}

// Render рендерит строковый шаблон, подставляя адреса зависимостей.
//
// Шаблон может содержать выражения:
//
//	{{endpoint(postgres)}}
//	postgres://veza@{{endpoint(postgres)}}:5432/veza
//	{{ endpoint "redis" | upper }}
func Render(tmpl string, lookup EndpointLookup) (string, error) {
	// Проверяем, содержит ли строка шаблонные выражения
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	// endpoint(id) → endpoint "id", чтобы выражение стало вызовом функции text/template
	src := placeholderRe.ReplaceAllString(tmpl, `endpoint "$1"`)

	funcs := maps.Clone(templateFuncs)
	funcs["endpoint"] = func(nodeID string) (string, error) {
		if lookup == nil {
			return "", fmt.Errorf("no endpoint lookup for %s", nodeID)
		}
		return lookup(nodeID)
	}

	t, err := template.New("").Option("missingkey=error").Funcs(funcs).Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderConfig рендерит все значения desired_config узла.
// Возвращает новую map, оригинал не изменяется.
func RenderConfig(config map[string]string, lookup EndpointLookup) (map[string]string, error) {
	if config == nil {
		return map[string]string{}, nil
	}

	result := make(map[string]string, len(config))
	for key, tmpl := range config {
		rendered, err := Render(tmpl, lookup)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", key, err)
		}
		result[key] = rendered
	}

	return result, nil
}

// MustRender рендерит шаблон или паникует при ошибке.
// Используется только в тестах и для статических шаблонов.
func MustRender(tmpl string, lookup EndpointLookup) string {
	result, err := Render(tmpl, lookup)
	if err != nil {
		panic(err)
	}
	return result
}
