package driver

import (
	"fmt"
	"sync"
	"time"
)

// DefaultPollInterval is used when a WaitConfig has a timeout but no poll interval.
const DefaultPollInterval = 500 * time.Millisecond

// WaitConfig controls implicit waiting on element lookups.
type WaitConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll"`
}

// Validate checks both durations are non-negative and the poll interval fits in the timeout.
func (c WaitConfig) Validate() error {
	if c.Timeout < 0 || c.PollInterval < 0 {
		return newError(KindInvalidArgument, "", fmt.Sprintf("negative wait config %v/%v", c.Timeout, c.PollInterval), nil)
	}
	if c.PollInterval > c.Timeout {
		return newError(KindInvalidArgument, "", fmt.Sprintf("poll interval %v exceeds timeout %v", c.PollInterval, c.Timeout), nil)
	}
	return nil
}

// interval is the effective poll interval.
func (c WaitConfig) interval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	if c.Timeout < DefaultPollInterval {
		return c.Timeout
	}
	return DefaultPollInterval
}

// WaitPolicy holds the wait config in force for lookups.
type WaitPolicy struct {
	mu  sync.RWMutex
	cfg WaitConfig
}

func NewWaitPolicy(cfg WaitConfig) (*WaitPolicy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WaitPolicy{cfg: cfg}, nil
}

func (p *WaitPolicy) CurrentConfig() WaitConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Set replaces the config for every lookup that uses this policy.
func (p *WaitPolicy) Set(cfg WaitConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// WithConfig returns an independent policy; changes to either do not affect the other.
func (p *WaitPolicy) WithConfig(cfg WaitConfig) (*WaitPolicy, error) {
	return NewWaitPolicy(cfg)
}

// Clock abstracts time for the polling loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}
