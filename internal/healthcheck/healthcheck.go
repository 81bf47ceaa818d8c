package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
)

var (
	// ErrUnknownCheck is returned when a configured check name is not registered.
	ErrUnknownCheck = errors.New("unknown health check")
	// ErrCheckFailed marks a check that reached the host but got a bad answer.
	ErrCheckFailed = errors.New("check failed")
)

// HealthCheck tests a single host. A false result without an error means the
// host answered but did not pass the check. Implementations must honour ctx.
type HealthCheck interface {
	Check(ctx context.Context, host string, params Params) (bool, error)
}

// Func adapts a plain function to HealthCheck.
type Func func(ctx context.Context, host string, params Params) (bool, error)

func (f Func) Check(ctx context.Context, host string, params Params) (bool, error) {
	return f(ctx, host, params)
}

// Params carries the protocol specific arguments of a configured check.
type Params map[string]any

// String returns the value of key as a string, or def when absent.
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

// Int returns the value of key as an int, or def when absent or not numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the value of key as a bool, or def when absent.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Registry maps check names to implementations.
type Registry struct {
	mutex  sync.RWMutex
	checks map[string]HealthCheck
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]HealthCheck)}
}

// DefaultRegistry returns a registry holding the built-in checks.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register("check_http", NewHTTPCheck(logger))
	r.Register("check_xmpp", NewXMPPCheck(logger))
	return r
}

func (r *Registry) Register(name string, check HealthCheck) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.checks[name] = check
}

// Lookup resolves a check by name.
func (r *Registry) Lookup(name string) (HealthCheck, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	check, ok := r.checks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCheck, name)
	}
	return check, nil
}

// Names lists the registered checks in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bound is a check resolved from configuration together with its parameters.
type Bound struct {
	Name   string
	Check  HealthCheck
	Params Params
}

// Resolve binds every configured check to its implementation. The input
// mirrors the configuration file: a list of single-key maps from check name
// to parameters.
func (r *Registry) Resolve(specs []map[string]map[string]any) ([]Bound, error) {
	var bound []Bound

	for _, spec := range specs {
		names := make([]string, 0, len(spec))
		for name := range spec {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			check, err := r.Lookup(name)
			if err != nil {
				return nil, err
			}
			bound = append(bound, Bound{Name: name, Check: check, Params: Params(spec[name])})
		}
	}

	return bound, nil
}
