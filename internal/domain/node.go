package domain

import "maps"

// Role — роль узла во флоте.
type Role string

const (
	RoleDatabase        Role = "database"
	RoleCache           Role = "cache"
	RoleObjectStore     Role = "object_store"
	RoleAPIBackend      Role = "api_backend"
	RoleRealtimeBackend Role = "realtime_backend"
	RoleMediaBackend    Role = "media_backend"
	RoleFrontend        Role = "frontend"
	RoleLoadBalancer    Role = "load_balancer"
)

// allRoles — роли в порядке, в котором их обычно поднимают.
var allRoles = []Role{
	RoleDatabase,
	RoleCache,
	RoleObjectStore,
	RoleAPIBackend,
	RoleRealtimeBackend,
	RoleMediaBackend,
	RoleFrontend,
	RoleLoadBalancer,
}

// Roles возвращает список всех известных ролей.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// IsValid проверяет, что роль известна.
func (r Role) IsValid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Node — узел флота (один контейнер с одним сервисом).
//
// Узлы описываются один раз в статической топологии и не создаются
// во время работы. Все поля неизменяемы после загрузки.
type Node struct {
	// ID — уникальный идентификатор узла (например, "postgres", "backend").
	ID string `json:"id" yaml:"id"`

	// Role — роль узла; определяет, какой плагин устанавливает сервис.
	Role Role `json:"role" yaml:"role"`

	// DependsOn — ID узлов, которые должны быть HEALTHY до конфигурации этого узла.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// DesiredConfig — ключи конфигурации → шаблоны значений.
	// Шаблон может ссылаться на адрес зависимости: {{endpoint(postgres)}}.
	DesiredConfig map[string]string `json:"desired_config,omitempty" yaml:"desired_config,omitempty"`

	// Image — образ контейнера (если пусто — берётся из Defaults).
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// Resolver — желаемая resolver-конфигурация (если nil — из Defaults).
	Resolver *ResolverSpec `json:"resolver,omitempty" yaml:"resolver,omitempty"`
}

// Clone возвращает глубокую копию узла.
func (n *Node) Clone() *Node {
	out := *n
	out.DependsOn = append([]string(nil), n.DependsOn...)
	out.DesiredConfig = maps.Clone(n.DesiredConfig)
	if n.Resolver != nil {
		r := n.Resolver.Clone()
		out.Resolver = &r
	}
	return &out
}

// NodeDefaults — значения по умолчанию для всех узлов топологии.
type NodeDefaults struct {
	// Image — образ контейнера по умолчанию.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// Resolver — resolver-конфигурация по умолчанию.
	Resolver *ResolverSpec `json:"resolver,omitempty" yaml:"resolver,omitempty"`
}

// TopologySpec — статическое описание флота (содержимое deploy/fleet.yaml).
type TopologySpec struct {
	// Name — имя флота; используется как префикс имён контейнеров.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Defaults — настройки по умолчанию для узлов.
	Defaults *NodeDefaults `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Nodes — узлы в порядке объявления.
	// Порядок объявления используется как tie-break при топологической сортировке.
	Nodes []Node `json:"nodes" yaml:"nodes"`
}

// DefaultImage — образ, если ни узел, ни Defaults его не задают.
const DefaultImage = "images:debian/12"

// ImageFor возвращает образ для узла с учётом Defaults.
func (t *TopologySpec) ImageFor(n *Node) string {
	if n.Image != "" {
		return n.Image
	}
	if t.Defaults != nil && t.Defaults.Image != "" {
		return t.Defaults.Image
	}
	return DefaultImage
}

// ResolverFor возвращает желаемую resolver-конфигурацию для узла с учётом Defaults.
func (t *TopologySpec) ResolverFor(n *Node) ResolverSpec {
	if n.Resolver != nil {
		return n.Resolver.WithDefaults()
	}
	if t.Defaults != nil && t.Defaults.Resolver != nil {
		return t.Defaults.Resolver.WithDefaults()
	}
	return DefaultResolverSpec()
}
