package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Shell runs a local command and responds with its combined output.
type Shell struct {
	// Dir is the working directory for commands that do not set their own.
	Dir string
}

type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

func (h Shell) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	var c Cmd
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("invalid shell payload: %w", err)
	}
	if c.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = h.Dir
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("shell error: %w; out=%s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
