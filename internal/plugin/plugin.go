// Package plugin implements the named-plugin lifecycle hook manager from
// §4.9: register/unregister, ordered hook execution, and a strict vs.
// lenient error policy. It stays independent of the root package (which
// would create an import cycle) and reports failures as HookError /
// HookTimeoutError; the root facade upgrades those into
// skibbadb.PluginError / skibbadb.PluginTimeoutError at the call boundary,
// the same "internal package reports a local error type, the facade
// translates it" shape internal/driverapi and internal/constraints use.
package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

// HookError reports that a plugin hook failed in strict mode.
type HookError struct {
	PluginName string
	HookName   string
	Err        error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin: %q failed in hook %q: %v", e.PluginName, e.HookName, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// HookTimeoutError reports that a hook exceeded its configured timeout.
type HookTimeoutError struct {
	PluginName string
	HookName   string
	Timeout    time.Duration
}

func (e *HookTimeoutError) Error() string {
	return fmt.Sprintf("plugin: %q timed out after %s in hook %q", e.PluginName, e.Timeout, e.HookName)
}

// DuplicatePluginError is returned by Register when name is already taken.
type DuplicatePluginError struct{ Name string }

func (e *DuplicatePluginError) Error() string {
	return fmt.Sprintf("plugin: %q is already registered", e.Name)
}

// Hook is the context passed to every lifecycle callback. Its fields are
// populated according to which hook is firing; callers that only care about
// a subset are free to ignore the rest.
type Hook struct {
	Name       string // e.g. "onBeforeInsert"
	Collection string
	Document   any
	Error      error // populated for onError
}

// Handler is one plugin's implementation of a single hook name.
type Handler func(ctx context.Context, h *Hook) error

// Plugin is a named, ordered set of lifecycle hook handlers.
type Plugin struct {
	Name  string
	Hooks map[string]Handler

	// Timeout, if non-zero, bounds every hook call for this plugin; a hook
	// that exceeds it surfaces as HookTimeoutError.
	Timeout time.Duration
}

// Policy selects strict vs. lenient error handling (§4.9/§9 "Strict mode").
type Policy int

const (
	PolicyStrict Policy = iota
	PolicyLenient
)

// Manager holds registered plugins and runs their hooks in registration
// order. Mutated only outside of hook execution (§5 "Shared resources").
type Manager struct {
	mu      sync.Mutex
	order   []string
	plugins map[string]*Plugin
	policy  Policy
	logger  pterm.Logger
}

// New constructs a Manager with the given error policy.
func New(policy Policy, logger pterm.Logger) *Manager {
	return &Manager{plugins: make(map[string]*Plugin), policy: policy, logger: logger}
}

// Register adds plugin, failing if its name is already taken.
func (m *Manager) Register(p *Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[p.Name]; exists {
		return &DuplicatePluginError{Name: p.Name}
	}
	m.plugins[p.Name] = p
	m.order = append(m.order, p.Name)
	return nil
}

// Unregister detaches a plugin by name; a no-op if it isn't registered.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[name]; !exists {
		return
	}
	delete(m.plugins, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) snapshot() []*Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Plugin, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name])
	}
	return out
}

// ExecuteHook iterates registered plugins in registration order and invokes
// hookName on each that declares a handler for it, passing h. In strict
// mode, the first failure wraps as *HookError, is routed through every
// plugin's "onError" handler (so observers see the failure context), and
// then returned — halting the operation. In lenient mode, a failure is
// logged via pterm and ignored; the remaining plugins still run.
//
// onError handlers are never themselves routed back through onError, to
// prevent recursion (§4.9).
func (m *Manager) ExecuteHook(ctx context.Context, hookName string, h *Hook) error {
	if h != nil {
		h.Name = hookName
	}
	if hookName == "onError" {
		return m.invokeAll(ctx, hookName, h, false)
	}

	for _, p := range m.snapshot() {
		handler, ok := p.Hooks[hookName]
		if !ok {
			continue
		}

		err := m.invoke(ctx, p, hookName, handler, h)
		if err == nil {
			continue
		}

		// invoke already returns *HookTimeoutError fully formed for a timed-out
		// handler; wrapping it in HookError too would make that type
		// unreachable at the call site that switches on it.
		var reportErr error = err
		if _, ok := err.(*HookTimeoutError); !ok {
			reportErr = &HookError{PluginName: p.Name, HookName: hookName, Err: err}
		}

		if m.policy == PolicyLenient {
			m.logger.Warn(reportErr.Error())
			continue
		}

		errHook := &Hook{Name: "onError", Collection: h.Collection, Document: h.Document, Error: reportErr}
		_ = m.invokeAll(ctx, "onError", errHook, true)
		return reportErr
	}
	return nil
}

// invokeAll runs hookName on every plugin that declares it. With swallow
// set (the onError fan-out, which must not itself abort the operation or
// recurse), individual failures are logged and skipped; otherwise the first
// failure is returned.
func (m *Manager) invokeAll(ctx context.Context, hookName string, h *Hook, swallow bool) error {
	for _, p := range m.snapshot() {
		handler, ok := p.Hooks[hookName]
		if !ok {
			continue
		}
		if err := m.invoke(ctx, p, hookName, handler, h); err != nil && !swallow {
			return err
		} else if err != nil {
			m.logger.Warn(fmt.Sprintf("plugin: %q failed in onError handler: %v", p.Name, err))
		}
	}
	return nil
}

func (m *Manager) invoke(ctx context.Context, p *Plugin, hookName string, handler Handler, h *Hook) error {
	if p.Timeout <= 0 {
		return handler(ctx, h)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() { resultCh <- handler(callCtx, h) }()

	select {
	case err := <-resultCh:
		return err
	case <-callCtx.Done():
		return &HookTimeoutError{PluginName: p.Name, HookName: hookName, Timeout: p.Timeout}
	}
}
