package tools

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/mcp"
)

// Source provides tools discovered from one remote tool server. Each source
// owns its own client; a misbehaving server can only fail its own fetch.
type Source interface {
	Name() string
	Tools(ctx context.Context) ([]ai.Tool, error)
}

// MCPSource is a Source backed by one MCP server connection.
type MCPSource struct {
	name   string
	genkit *genkit.Genkit
	host   *mcp.MCPHost
}

// NewMCPSource connects a host to a single MCP server. The connection is
// established lazily by the host; a dead server surfaces on the first
// Tools call, not here.
func NewMCPSource(g *genkit.Genkit, name string, opts mcp.MCPClientOptions) (*MCPSource, error) {
	host, err := mcp.NewMCPHost(g, mcp.MCPHostOptions{
		Name:    "parley",
		Version: "1.0.0",
		MCPServers: []mcp.MCPServerConfig{
			{Name: name, Config: opts},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating tool-server host for %q: %w", name, err)
	}
	return &MCPSource{name: name, genkit: g, host: host}, nil
}

// Name returns the server identifier used in streaming requests.
func (s *MCPSource) Name() string { return s.name }

// Tools fetches the server's current tool catalog.
func (s *MCPSource) Tools(ctx context.Context) ([]ai.Tool, error) {
	tools, err := s.host.GetActiveTools(ctx, s.genkit)
	if err != nil {
		return nil, fmt.Errorf("fetching tools from %q: %w", s.name, err)
	}
	return tools, nil
}
