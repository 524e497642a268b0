// Package native implements an in-process interp.Runtime backed by a registry
// of Go modules.
package native

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"pngtools/internal/interp"
)

// Method is a zero-argument method exposed by an Instance.
type Method func() (any, error)

// Instance is an object created by calling a Class.
type Instance interface {
	// Method looks up a zero-argument method by name.
	Method(name string) (Method, bool)
}

// Class is a callable attribute that constructs an Instance.
type Class struct {
	Name string
	New  func() (Instance, error)
}

// Module is a named set of attributes. Attribute values are usually *Class,
// but any Go value may be exposed.
type Module struct {
	Name  string
	Attrs map[string]any
}

// Registry holds the modules importable from a Runtime.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Register adds or replaces a module.
func (r *Registry) Register(m *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name] = m
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names lists registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrNotStarted is returned by Import before Start.
var ErrNotStarted = errors.New("runtime not started")

// Runtime serves imports from a Registry.
type Runtime struct {
	registry *Registry

	mu      sync.Mutex
	started bool
}

// NewRuntime creates a runtime over the given registry.
func NewRuntime(registry *Registry) *Runtime {
	return &Runtime{registry: registry}
}

// Name implements interp.Runtime.
func (rt *Runtime) Name() string { return "native" }

// Start implements interp.Runtime.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.registry == nil {
		return errors.New("native runtime has no module registry")
	}
	rt.started = true
	return nil
}

// Import implements interp.Runtime.
func (rt *Runtime) Import(name string) (interp.Object, error) {
	rt.mu.Lock()
	started := rt.started
	rt.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	m, ok := rt.registry.Lookup(name)
	if !ok {
		return nil, &interp.RemoteError{
			Type:    "ModuleNotFoundError",
			Message: fmt.Sprintf("No module named '%s'", name),
		}
	}
	return &moduleObject{module: m}, nil
}

// Close implements interp.Runtime.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.started = false
	return nil
}

type moduleObject struct {
	module *Module
}

func (o *moduleObject) GetAttr(name string) (interp.Object, error) {
	v, ok := o.module.Attrs[name]
	if !ok {
		return nil, &interp.RemoteError{
			Type:    "AttributeError",
			Message: fmt.Sprintf("module '%s' has no attribute '%s'", o.module.Name, name),
		}
	}
	return wrap(v), nil
}

func (o *moduleObject) Call() (interp.Object, error) {
	return nil, notCallable("module")
}

func (o *moduleObject) CallMethod(name string) (interp.Value, error) {
	return nil, &interp.RemoteError{
		Type:    "AttributeError",
		Message: fmt.Sprintf("module '%s' has no attribute '%s'", o.module.Name, name),
	}
}

type classObject struct {
	class *Class
}

func (o *classObject) GetAttr(name string) (interp.Object, error) {
	return nil, &interp.RemoteError{
		Type:    "AttributeError",
		Message: fmt.Sprintf("type object '%s' has no attribute '%s'", o.class.Name, name),
	}
}

func (o *classObject) Call() (interp.Object, error) {
	if o.class.New == nil {
		return nil, notCallable(o.class.Name)
	}
	inst, err := o.class.New()
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%s constructor returned no instance", o.class.Name)
	}
	return &instanceObject{class: o.class.Name, inst: inst}, nil
}

func (o *classObject) CallMethod(name string) (interp.Value, error) {
	_, err := o.GetAttr(name)
	return nil, err
}

type instanceObject struct {
	class string
	inst  Instance
}

func (o *instanceObject) GetAttr(name string) (interp.Object, error) {
	if _, ok := o.inst.Method(name); ok {
		return &valueObject{typeName: "method"}, nil
	}
	return nil, o.missing(name)
}

func (o *instanceObject) Call() (interp.Object, error) {
	return nil, notCallable(o.class)
}

func (o *instanceObject) CallMethod(name string) (interp.Value, error) {
	m, ok := o.inst.Method(name)
	if !ok {
		return nil, o.missing(name)
	}
	return m()
}

func (o *instanceObject) missing(name string) error {
	return &interp.RemoteError{
		Type:    "AttributeError",
		Message: fmt.Sprintf("'%s' object has no attribute '%s'", o.class, name),
	}
}

// valueObject wraps a plain attribute value that is neither class nor module.
type valueObject struct {
	typeName string
}

func (o *valueObject) GetAttr(name string) (interp.Object, error) {
	return nil, &interp.RemoteError{
		Type:    "AttributeError",
		Message: fmt.Sprintf("'%s' object has no attribute '%s'", o.typeName, name),
	}
}

func (o *valueObject) Call() (interp.Object, error) {
	return nil, notCallable(o.typeName)
}

func (o *valueObject) CallMethod(name string) (interp.Value, error) {
	_, err := o.GetAttr(name)
	return nil, err
}

func wrap(v any) interp.Object {
	switch x := v.(type) {
	case *Class:
		return &classObject{class: x}
	case *Module:
		return &moduleObject{module: x}
	default:
		return &valueObject{typeName: fmt.Sprintf("%T", v)}
	}
}

func notCallable(typeName string) error {
	return &interp.RemoteError{
		Type:    "TypeError",
		Message: fmt.Sprintf("'%s' object is not callable", typeName),
	}
}
