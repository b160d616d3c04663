package recipe

import (
	"errors"
	"testing"
)

// bufferSchema is a minimal schema for registry tests.
type bufferSchema struct {
	fail error
}

func (s *bufferSchema) Name() string { return "buffer" }

func (s *bufferSchema) Apply(r *Recipe) error {
	if s.fail != nil {
		return s.fail
	}
	r.Region = r.Region.Buffer(1)
	r.GlobalHooks = append(r.GlobalHooks, HookSpec{Name: "injected"})
	return nil
}

func schemaTestRecipe() *Recipe {
	return &Recipe{
		Project: "p",
		Region:  Region{West: -120, East: -119, South: 33, North: 34},
		Domain:  &Domain{Schema: "buffer"},
		Modules: []ModuleConfig{{Module: "urllist"}},
	}
}

func TestSchemaApplyRewritesClone(t *testing.T) {
	sr := NewSchemaRegistry()
	sr.Register(&bufferSchema{})

	r := schemaTestRecipe()
	out, err := sr.Apply(r)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Region.West != -121 {
		t.Errorf("rewritten west = %g, want -121", out.Region.West)
	}
	if len(out.GlobalHooks) != 1 || out.GlobalHooks[0].Name != "injected" {
		t.Errorf("global hooks = %+v", out.GlobalHooks)
	}
	if !out.Domain.Applied {
		t.Error("rewritten recipe not marked applied")
	}

	// The caller's recipe is untouched.
	if r.Region.West != -120 || len(r.GlobalHooks) != 0 || r.Domain.Applied {
		t.Errorf("input recipe mutated: %+v", r)
	}
}

func TestSchemaApplyIsDeterministicOnReapply(t *testing.T) {
	sr := NewSchemaRegistry()
	sr.Register(&bufferSchema{})

	out, err := sr.Apply(schemaTestRecipe())
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err = sr.Apply(out)
	if !errors.Is(err, ErrSchemaApplied) {
		t.Errorf("second apply error = %v, want ErrSchemaApplied", err)
	}
}

func TestSchemaApplyUnknownName(t *testing.T) {
	sr := NewSchemaRegistry()
	_, err := sr.Apply(schemaTestRecipe())
	if !errors.Is(err, ErrUnknownSchema) {
		t.Errorf("error = %v, want ErrUnknownSchema", err)
	}
}

func TestSchemaApplyNoDomainPassthrough(t *testing.T) {
	sr := NewSchemaRegistry()
	r := schemaTestRecipe()
	r.Domain = nil
	out, err := sr.Apply(r)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != r {
		t.Error("recipe without a domain was cloned")
	}
}

func TestSchemaApplyFailureLeavesOriginal(t *testing.T) {
	sr := NewSchemaRegistry()
	sr.Register(&bufferSchema{fail: errors.New("bad geometry")})

	r := schemaTestRecipe()
	if _, err := sr.Apply(r); err == nil {
		t.Fatal("expected the schema failure")
	}
	if r.Domain.Applied || r.Region.West != -120 {
		t.Errorf("failed apply mutated the input: %+v", r)
	}
}

func TestSchemaRegistryNames(t *testing.T) {
	sr := NewSchemaRegistry()
	sr.Register(&bufferSchema{})
	names := sr.Names()
	if len(names) != 1 || names[0] != "buffer" {
		t.Errorf("names = %v", names)
	}
}
