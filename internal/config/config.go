// Package config читает конфигурацию бинарников из переменных окружения.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vrischmann/envconfig"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/policy"
)

// Runtime-бэкенды деплойера.
const (
	RuntimeIncus = "incus"
	RuntimeSim   = "sim"
)

// Retry — параметры политики повторов.
type Retry struct {
	Attempts int           `envconfig:"ARMADA_RETRY_ATTEMPTS,default=3"`
	Delay    time.Duration `envconfig:"ARMADA_RETRY_DELAY,default=3s"`
	Backoff  string        `envconfig:"ARMADA_RETRY_BACKOFF,default=fixed"`
	MaxDelay time.Duration `envconfig:"ARMADA_RETRY_MAX_DELAY,default=30s"`
}

// Policy возвращает политику повторов.
func (r Retry) Policy() policy.RetryPolicy {
	return policy.RetryPolicy{
		MaxAttempts: r.Attempts,
		Delay:       r.Delay,
		MaxDelay:    r.MaxDelay,
		Backoff:     policy.Backoff(r.Backoff),
	}
}

// GuardLoop — параметры guard-цикла.
type GuardLoop struct {
	Interval         time.Duration `envconfig:"ARMADA_GUARD_INTERVAL,default=30s"`
	FailureThreshold int           `envconfig:"ARMADA_GUARD_FAILURE_THRESHOLD,default=3"`
	ProbeTimeout     time.Duration `envconfig:"ARMADA_PROBE_TIMEOUT,default=5s"`
}

// Brokers — необязательные брокеры событий.
type Brokers struct {
	RabbitMQURL      string   `envconfig:"RABBITMQ_URL,optional"`
	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS,optional"`
	KafkaEventsTopic string   `envconfig:"KAFKA_EVENTS_TOPIC,default=armada.events"`
}

// Deployer — конфигурация armada-deployer.
type Deployer struct {
	Runtime        string `envconfig:"ARMADA_RUNTIME,default=incus"`
	IncusBin       string `envconfig:"ARMADA_INCUS_BIN,default=incus"`
	Topology       string `envconfig:"ARMADA_TOPOLOGY,default=deploy/fleet.yaml"`
	InstancePrefix string `envconfig:"ARMADA_INSTANCE_PREFIX,optional"`

	Retry Retry

	ReadyTimeout      time.Duration `envconfig:"ARMADA_READY_TIMEOUT,default=2m"`
	DependencyTimeout time.Duration `envconfig:"ARMADA_DEPENDENCY_TIMEOUT,default=10m"`
	MaxParallel       int           `envconfig:"ARMADA_MAX_PARALLEL,default=4"`
	DeployOnStart     bool          `envconfig:"ARMADA_DEPLOY_ON_START,default=true"`

	GuardEnabled bool `envconfig:"ARMADA_GUARD_ENABLED,default=true"`
	Guard        GuardLoop

	HealthSchedule string        `envconfig:"ARMADA_HEALTH_SCHEDULE,default=@every 1m"`
	HealthTimeout  time.Duration `envconfig:"ARMADA_HEALTH_TIMEOUT,default=10s"`

	DBURL string `envconfig:"DB_URL,optional"`

	Brokers Brokers

	Port int `envconfig:"ARMADA_PORT,default=8090"`
}

// LoadDeployer читает конфигурацию деплойера.
func LoadDeployer() (*Deployer, error) {
	var cfg Deployer
	if err := envconfig.Init(&cfg); err != nil {
		return nil, fmt.Errorf("read deployer config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, которые envconfig не проверяет сам.
func (c *Deployer) Validate() error {
	switch c.Runtime {
	case RuntimeIncus, RuntimeSim:
	default:
		return fmt.Errorf("ARMADA_RUNTIME: unknown runtime %q", c.Runtime)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("ARMADA_RETRY_ATTEMPTS must be >= 1, got %d", c.Retry.Attempts)
	}
	if c.MaxParallel < 1 {
		return fmt.Errorf("ARMADA_MAX_PARALLEL must be >= 1, got %d", c.MaxParallel)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("ARMADA_PORT out of range: %d", c.Port)
	}
	return nil
}

// Addr возвращает адрес HTTP сервера.
func (c *Deployer) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Guard — конфигурация armada-guard внутри контейнера.
type Guard struct {
	NodeID     string `envconfig:"ARMADA_NODE_ID,optional"`
	ResolvConf string `envconfig:"ARMADA_RESOLV_CONF,default=/etc/resolv.conf"`

	Nameservers    []string `envconfig:"ARMADA_NAMESERVERS,optional"`
	Search         []string `envconfig:"ARMADA_SEARCH,optional"`
	ProbeTargets   []string `envconfig:"ARMADA_PROBE_TARGETS,optional"`
	ProbeName      string   `envconfig:"ARMADA_PROBE_NAME,optional"`
	Quorum         int      `envconfig:"ARMADA_PROBE_QUORUM,optional"`
	Immutable      bool     `envconfig:"ARMADA_RESOLV_IMMUTABLE,default=false"`
	RestartCommand []string `envconfig:"ARMADA_RESTART_COMMAND,optional"`

	Retry Retry
	Loop  GuardLoop

	Brokers Brokers
}

// LoadGuard читает конфигурацию guard. Без ARMADA_NODE_ID узлом
// считается hostname контейнера.
func LoadGuard() (*Guard, error) {
	var cfg Guard
	if err := envconfig.Init(&cfg); err != nil {
		return nil, fmt.Errorf("read guard config: %w", err)
	}
	if cfg.NodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve node id: %w", err)
		}
		cfg.NodeID = host
	}
	if cfg.Retry.Attempts < 1 {
		return nil, fmt.Errorf("ARMADA_RETRY_ATTEMPTS must be >= 1, got %d", cfg.Retry.Attempts)
	}
	return &cfg, nil
}

// ResolverSpec возвращает желаемую resolver-конфигурацию с заполненными значениями по умолчанию.
func (c *Guard) ResolverSpec() domain.ResolverSpec {
	return domain.ResolverSpec{
		Nameservers:    c.Nameservers,
		Search:         c.Search,
		Immutable:      c.Immutable,
		ProbeTargets:   c.ProbeTargets,
		ProbeName:      c.ProbeName,
		Quorum:         c.Quorum,
		RestartCommand: c.RestartCommand,
	}.WithDefaults()
}
