package hooks

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fetchez/fetchez/pkg/engine"
)

// Pipe is a FILE hook that runs an external command over each retrieved
// artifact. {dst} and {url} placeholders in the argument list are expanded
// per entry. The command's combined output is captured into entry metadata
// on failure so the report explains what the tool rejected.
type Pipe struct {
	command string
	args    []string
}

// NewPipe is the hook factory for "pipe". The command must exist on PATH at
// plan time; a missing binary skips the hook rather than failing the run.
func NewPipe(args map[string]interface{}) (engine.Hook, error) {
	command := argString(args, "command", "")
	if command == "" {
		return nil, engine.NewPermanentError("pipe requires a command", nil).
			WithCode(engine.ErrCodeConfig)
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("pipe command %q not found on PATH", command), err).
			WithCode(engine.ErrCodeDependencyMissing)
	}

	h := &Pipe{command: command}
	switch v := args["args"].(type) {
	case string:
		h.args = strings.Fields(v)
	case []interface{}:
		for _, a := range v {
			h.args = append(h.args, fmt.Sprint(a))
		}
	}
	return h, nil
}

// Name implements engine.Hook.
func (h *Pipe) Name() string { return "pipe" }

// File implements engine.FileHook.
func (h *Pipe) File(ctx context.Context, e *engine.Entry) ([]*engine.Entry, error) {
	argv := make([]string, 0, len(h.args)+1)
	replaced := false
	for _, a := range h.args {
		if strings.Contains(a, "{dst}") || strings.Contains(a, "{url}") {
			replaced = true
		}
		a = strings.ReplaceAll(a, "{dst}", e.Dst)
		a = strings.ReplaceAll(a, "{url}", e.URL)
		argv = append(argv, a)
	}
	if !replaced {
		argv = append(argv, e.Dst)
	}

	cmd := exec.CommandContext(ctx, h.command, argv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		e.SetMeta("pipe_output", strings.TrimSpace(string(out)))
		return nil, fmt.Errorf("pipe command %s failed: %w", h.command, err)
	}
	e.SetMeta("piped", h.command)
	return nil, nil
}
