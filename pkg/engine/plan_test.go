package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fetchez/fetchez/pkg/recipe"
)

// bareHook implements no pipeline stage.
type bareHook struct{}

func (bareHook) Name() string { return "bare" }

// dualHook participates in both the PRE and POST stages.
type dualHook struct{}

func (dualHook) Name() string { return "dual" }

func (dualHook) Pre(ctx context.Context, entries []*Entry) ([]*Entry, error) {
	return entries, nil
}

func (dualHook) Post(ctx context.Context, entries []*Entry) ([]*Entry, error) {
	return entries, nil
}

func planRegistry() *Registry {
	reg := NewRegistry()
	registerStub(reg, &stubModule{name: "src", urls: []string{"s/a.tif"}})
	registerHook(reg, &countPreHook{})
	registerHook(reg, &recordPostHook{})
	registerHook(reg, stampFileHook{})
	registerHook(reg, dualHook{})
	registerHook(reg, bareHook{})
	reg.RegisterHook("absent_dep", func(args map[string]interface{}) (Hook, error) {
		return nil, NewPermanentError("laszip not found in PATH", nil).
			WithCode(ErrCodeDependencyMissing)
	})
	return reg
}

func TestCompileStagesHooksByInterface(t *testing.T) {
	reg := planRegistry()
	r := testRecipe(t.TempDir(), recipe.ModuleConfig{
		Module: "src",
		Hooks: []recipe.HookSpec{
			{Name: "count_entries"},
			{Name: "stamp"},
			{Name: "record_post"},
		},
	})

	plan := Compile(r, reg)
	mp := plan.Modules[0]
	if mp.Err != nil {
		t.Fatalf("compile error: %v", mp.Err)
	}
	if len(mp.Hooks.Pre) != 1 || len(mp.Hooks.File) != 1 || len(mp.Hooks.Post) != 1 {
		t.Errorf("chain partition = %d/%d/%d, want 1/1/1",
			len(mp.Hooks.Pre), len(mp.Hooks.File), len(mp.Hooks.Post))
	}
}

func TestCompileMultiStageHookJoinsBothStages(t *testing.T) {
	reg := planRegistry()
	r := testRecipe(t.TempDir(), recipe.ModuleConfig{
		Module: "src",
		Hooks:  []recipe.HookSpec{{Name: "dual"}},
	})

	plan := Compile(r, reg)
	mp := plan.Modules[0]
	if mp.Err != nil {
		t.Fatalf("compile error: %v", mp.Err)
	}
	if len(mp.Hooks.Pre) != 1 || len(mp.Hooks.Post) != 1 {
		t.Errorf("dual hook staged %d/%d, want pre and post",
			len(mp.Hooks.Pre), len(mp.Hooks.Post))
	}
}

func TestCompileStagelessHookFailsChain(t *testing.T) {
	reg := planRegistry()
	r := testRecipe(t.TempDir(), recipe.ModuleConfig{
		Module: "src",
		Hooks:  []recipe.HookSpec{{Name: "bare"}},
	})

	plan := Compile(r, reg)
	if plan.Modules[0].Err == nil {
		t.Fatal("stageless hook accepted")
	}
	if !strings.Contains(plan.Modules[0].Err.Error(), "no pipeline stage") {
		t.Errorf("error = %v", plan.Modules[0].Err)
	}
}

func TestCompileMissingDependencySkipsHook(t *testing.T) {
	reg := planRegistry()
	r := testRecipe(t.TempDir(), recipe.ModuleConfig{
		Module: "src",
		Hooks: []recipe.HookSpec{
			{Name: "absent_dep"},
			{Name: "count_entries"},
		},
	})

	plan := Compile(r, reg)
	mp := plan.Modules[0]
	if mp.Err != nil {
		t.Fatalf("compile error: %v", mp.Err)
	}
	if len(mp.Hooks.Skipped) != 1 || mp.Hooks.Skipped[0].Name != "absent_dep" {
		t.Fatalf("skipped = %+v, want absent_dep", mp.Hooks.Skipped)
	}
	if !strings.Contains(mp.Hooks.Skipped[0].Reason, "laszip") {
		t.Errorf("skip reason = %q, want the missing dependency named", mp.Hooks.Skipped[0].Reason)
	}
	if len(mp.Hooks.Pre) != 1 {
		t.Error("hooks after the skipped one were dropped")
	}
}

func TestCompileUnknownHookFailsChain(t *testing.T) {
	reg := planRegistry()
	r := testRecipe(t.TempDir(), recipe.ModuleConfig{
		Module: "src",
		Hooks:  []recipe.HookSpec{{Name: "never_registered"}},
	})

	plan := Compile(r, reg)
	if plan.Modules[0].Err == nil {
		t.Fatal("unknown hook accepted")
	}
	var ee *EngineError
	if !errors.As(plan.Modules[0].Err, &ee) || ee.Code != ErrCodeNotFound {
		t.Errorf("error = %v, want code %s", plan.Modules[0].Err, ErrCodeNotFound)
	}
}

func TestCompileUnknownModuleIsolated(t *testing.T) {
	reg := planRegistry()
	r := testRecipe(t.TempDir(),
		recipe.ModuleConfig{Module: "nope"},
		recipe.ModuleConfig{Module: "src"},
	)

	plan := Compile(r, reg)
	if plan.Modules[0].Err == nil {
		t.Error("unknown module compiled")
	}
	if plan.Modules[1].Err != nil {
		t.Errorf("valid module poisoned: %v", plan.Modules[1].Err)
	}
}

func TestCompileGlobalChainErrorDoesNotBlockModules(t *testing.T) {
	reg := planRegistry()
	r := testRecipe(t.TempDir(), recipe.ModuleConfig{Module: "src"})
	r.GlobalHooks = []recipe.HookSpec{{Name: "never_registered"}}

	plan := Compile(r, reg)
	if plan.GlobalHooksErr == nil {
		t.Error("unknown global hook compiled")
	}
	if plan.Modules[0].Err != nil {
		t.Errorf("module scope poisoned by global chain: %v", plan.Modules[0].Err)
	}
}

func TestCompileDuplicateModuleNamesStayDistinct(t *testing.T) {
	reg := planRegistry()
	r := testRecipe(t.TempDir(),
		recipe.ModuleConfig{Module: "src", Args: map[string]interface{}{"tag": "first"}},
		recipe.ModuleConfig{Module: "src", Args: map[string]interface{}{"tag": "second"}},
	)

	plan := Compile(r, reg)
	if len(plan.Modules) != 2 {
		t.Fatalf("got %d module plans, want 2", len(plan.Modules))
	}
	if plan.Modules[0].Index != 0 || plan.Modules[1].Index != 1 {
		t.Errorf("indices = %d,%d, want 0,1", plan.Modules[0].Index, plan.Modules[1].Index)
	}
}
