// Package tools holds the registry that maps tool names to the
// provider sessions that own them.
package tools

import (
	"context"
	"fmt"
)

// Descriptor is a tool as advertised by its provider. Schema is a JSON
// Schema object describing the arguments; it is advisory metadata for
// the model and is never validated here.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"input_schema"`
}

// Provider is anything that advertises tools and can invoke them,
// usually an external tool session.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Tools returns the advertised tools. The slice must not change
	// after the provider is handed to Build.
	Tools() []Descriptor

	// Invoke runs one tool call and returns its text content.
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Registry maps tool names to their owning provider. It is immutable
// once built and safe for concurrent use without locking.
type Registry struct {
	order  []Descriptor
	owners map[string]Provider
}

// Build merges the tools of every provider into one registry. Tools
// keep provider order, then advertised order. Two providers
// advertising the same name fail the whole build with a
// *DuplicateToolNameError; no partial registry is returned.
func Build(providers ...Provider) (*Registry, error) {
	r := &Registry{owners: make(map[string]Provider)}

	for _, p := range providers {
		for _, d := range p.Tools() {
			if first, ok := r.owners[d.Name]; ok {
				return nil, &DuplicateToolNameError{
					Name:   d.Name,
					First:  first.Name(),
					Second: p.Name(),
				}
			}
			r.owners[d.Name] = p
			r.order = append(r.order, d)
		}
	}

	return r, nil
}

// Resolve returns the provider that owns name.
func (r *Registry) Resolve(name string) (Provider, error) {
	p, ok := r.owners[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return p, nil
}

// Owner returns the name of the provider owning the tool, or "" if
// the tool is unknown.
func (r *Registry) Owner(name string) string {
	if p, ok := r.owners[name]; ok {
		return p.Name()
	}
	return ""
}

// Descriptors returns every registered tool in registry order. The
// returned slice is a copy.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Tool is an in-process tool backed by a Go function.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Local is a Provider serving in-process tools.
type Local struct {
	name  string
	tools []*Tool
	index map[string]*Tool
}

// NewLocal creates a provider for in-process tools. Handlers are
// called directly on the dispatching goroutine.
func NewLocal(name string, tools ...*Tool) *Local {
	l := &Local{name: name, index: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		l.tools = append(l.tools, t)
		l.index[t.Name] = t
	}
	return l
}

// Name implements Provider.
func (l *Local) Name() string { return l.name }

// Tools implements Provider.
func (l *Local) Tools() []Descriptor {
	out := make([]Descriptor, 0, len(l.tools))
	for _, t := range l.tools {
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, Schema: t.Parameters})
	}
	return out
}

// Invoke implements Provider.
func (l *Local) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := l.index[name]
	if !ok {
		return "", &UnknownToolError{Name: name}
	}
	if t.Handler == nil {
		return "", fmt.Errorf("tool %s has no handler", name)
	}
	return t.Handler(ctx, args)
}
