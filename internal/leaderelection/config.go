package leaderelection

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"k8s.io/klog/v2"
)

const (
	// DefaultLeaseName is used when no lease name is configured.
	DefaultLeaseName = "k8s-leader-election"
	// DefaultNamespace is used when no namespace is configured.
	DefaultNamespace = "default"
	// DefaultRenewalInterval is the time between renewals; the lease
	// duration is derived as 2x this value.
	DefaultRenewalInterval = 10 * time.Second

	// bootstrapAttempts is the number of acquisition attempts made at
	// startup before handing opportunity entirely to the watch loop.
	bootstrapAttempts = 3
)

// LogLevel controls the verbosity of informational logging.
type LogLevel string

const (
	LogLevelLog   LogLevel = "log"
	LogLevelDebug LogLevel = "debug"
)

// Config holds the engine's tunables. Use NewConfig with Options to build
// one; the zero value is not valid on its own.
type Config struct {
	LeaseName       string
	Namespace       string
	RenewalInterval time.Duration
	LeaseDuration   time.Duration
	AwaitLeadership bool
	LogLevel        LogLevel

	clock clockwork.Clock
}

// Option configures a Config built by NewConfig.
type Option func(*Config) error

// WithLeaseName overrides DefaultLeaseName.
func WithLeaseName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return errors.New("leaderelection: lease name must not be empty")
		}
		c.LeaseName = name
		return nil
	}
}

// WithNamespace overrides DefaultNamespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		if namespace == "" {
			return errors.New("leaderelection: namespace must not be empty")
		}
		c.Namespace = namespace
		return nil
	}
}

// WithRenewalInterval overrides DefaultRenewalInterval. The lease
// duration is re-derived as 2x the new interval.
func WithRenewalInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return errors.New("leaderelection: renewal interval must be greater than 0")
		}
		c.RenewalInterval = d
		c.LeaseDuration = 2 * d
		return nil
	}
}

// WithAwaitLeadership sets whether Start blocks until the first
// acquisition sequence completes.
func WithAwaitLeadership(await bool) Option {
	return func(c *Config) error {
		c.AwaitLeadership = await
		return nil
	}
}

// WithLogLevel sets the informational logging verbosity.
func WithLogLevel(level LogLevel) Option {
	return func(c *Config) error {
		if level != LogLevelLog && level != LogLevelDebug {
			return errors.New("leaderelection: logAtLevel must be \"log\" or \"debug\"")
		}
		c.LogLevel = level
		return nil
	}
}

// WithClock injects a clockwork.Clock, for deterministic tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) error {
		if clock == nil {
			return errors.New("leaderelection: clock is nil")
		}
		c.clock = clock
		return nil
	}
}

// Clock returns the configured clock, defaulting to the real wall
// clock when none was injected via WithClock.
func (c Config) Clock() clockwork.Clock {
	if c.clock == nil {
		return clockwork.NewRealClock()
	}
	return c.clock
}

// logDebug emits msg at klog's informational level, but only when
// level is LogLevelDebug: this is how the configured verbosity
// actually gates the engine's "lost the race", "held by a valid
// peer"-style chatter instead of always emitting it.
func logDebug(level LogLevel, msg string, keysAndValues ...interface{}) {
	if level != LogLevelDebug {
		return
	}
	klog.InfoS(msg, keysAndValues...)
}

// NewConfig builds a Config from defaults plus the given Options.
func NewConfig(opts ...Option) (Config, error) {
	c := Config{
		LeaseName:       DefaultLeaseName,
		Namespace:       DefaultNamespace,
		RenewalInterval: DefaultRenewalInterval,
		LeaseDuration:   2 * DefaultRenewalInterval,
		LogLevel:        LogLevelLog,
		clock:           clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return Config{}, err
		}
	}

	return c, nil
}
