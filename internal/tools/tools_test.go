package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:       name,
		Parameters: map[string]any{"type": "object"},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return fmt.Sprintf("%s:%v", name, args["q"]), nil
		},
	}
}

func TestBuild_OrderAndOwners(t *testing.T) {
	search := NewLocal("search", echoTool("search_documents"), echoTool("get_document"))
	vision := NewLocal("vision", echoTool("analyze_images"))

	r, err := Build(search, vision)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	want := []string{"search_documents", "get_document", "analyze_images"}
	for i, d := range r.Descriptors() {
		if d.Name != want[i] {
			t.Errorf("Descriptors()[%d] = %q, want %q", i, d.Name, want[i])
		}
	}

	if got := r.Owner("analyze_images"); got != "vision" {
		t.Errorf("Owner(analyze_images) = %q, want vision", got)
	}
	if got := r.Owner("missing"); got != "" {
		t.Errorf("Owner(missing) = %q, want empty", got)
	}
}

func TestBuild_DuplicateName(t *testing.T) {
	a := NewLocal("a", echoTool("lookup"))
	b := NewLocal("b", echoTool("other"), echoTool("lookup"))

	r, err := Build(a, b)
	if r != nil {
		t.Error("Build returned a partial registry")
	}

	var dup *DuplicateToolNameError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want *DuplicateToolNameError", err)
	}
	if dup.Name != "lookup" || dup.First != "a" || dup.Second != "b" {
		t.Errorf("dup = %+v", dup)
	}
}

func TestResolve(t *testing.T) {
	r, err := Build(NewLocal("search", echoTool("search_documents")))
	if err != nil {
		t.Fatal(err)
	}

	p, err := r.Resolve("search_documents")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	out, err := p.Invoke(context.Background(), "search_documents", map[string]any{"q": "charts"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "search_documents:charts" {
		t.Errorf("Invoke = %q", out)
	}

	_, err = r.Resolve("nope")
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) || unknown.Name != "nope" {
		t.Errorf("Resolve(nope) err = %v, want *UnknownToolError{nope}", err)
	}
}

func TestDescriptors_ReturnsCopy(t *testing.T) {
	r, _ := Build(NewLocal("s", echoTool("a")))
	d := r.Descriptors()
	d[0].Name = "mutated"

	if r.Descriptors()[0].Name != "a" {
		t.Error("Descriptors exposed internal state")
	}
}

func TestBuild_Empty(t *testing.T) {
	r, err := Build()
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestLocal_UnknownTool(t *testing.T) {
	l := NewLocal("s", echoTool("a"))
	_, err := l.Invoke(context.Background(), "b", nil)

	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Errorf("err = %v, want *UnknownToolError", err)
	}
}

func TestErrorMessages(t *testing.T) {
	if got := (&UnknownToolError{Name: "x"}).Error(); got != `unknown tool "x"` {
		t.Errorf("UnknownToolError = %q", got)
	}
	dup := &DuplicateToolNameError{Name: "x", First: "a", Second: "b"}
	if got := dup.Error(); got != `tool "x" advertised by both a and b` {
		t.Errorf("DuplicateToolNameError = %q", got)
	}
}
