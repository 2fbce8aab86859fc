package config

import (
	"fmt"

	"github.com/firebase/genkit/go/plugins/mcp"
)

// ToolServer configures one remote tool server launched over stdio. The
// Name is what streaming requests use to select the server.
type ToolServer struct {
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

func (s ToolServer) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: tool server with empty name", ErrDuplicateToolServer)
	}
	if s.Command == "" {
		return fmt.Errorf("tool server %q: command is empty", s.Name)
	}
	return nil
}

// ClientOptions converts the entry into client options for the tool-server
// host.
func (s ToolServer) ClientOptions() mcp.MCPClientOptions {
	return mcp.MCPClientOptions{
		Name: s.Name,
		Stdio: &mcp.StdioConfig{
			Command: s.Command,
			Args:    s.Args,
			Env:     envMapToSlice(s.Env),
		},
	}
}

// envMapToSlice converts an environment map to KEY=value form.
func envMapToSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
