package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/firebase/genkit/go/ai"
)

// Resolver assembles the tool set for one streaming request: the fixed
// local tools plus whatever the requested remote servers currently expose.
type Resolver struct {
	local   []ai.Tool
	sources map[string]Source
	logger  *slog.Logger
}

// NewResolver creates a Resolver. Sources are keyed by server name; the
// local tool list is fixed at construction.
func NewResolver(local []ai.Tool, sources []Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		byName[s.Name()] = s
	}
	return &Resolver{local: local, sources: byName, logger: logger}
}

// Resolve returns the tools available to this request. A model without
// tool capability gets none. Remote catalogs are fetched concurrently, one
// round trip per requested server; a server that fails or is unknown is
// logged and skipped so the request proceeds with a partial tool set.
func (r *Resolver) Resolve(ctx context.Context, toolCapable bool, servers []string) []ai.Tool {
	if !toolCapable {
		return nil
	}

	resolved := make([]ai.Tool, len(r.local))
	copy(resolved, r.local)

	if len(servers) == 0 {
		return resolved
	}

	results := make([][]ai.Tool, len(servers))
	var wg sync.WaitGroup
	for i, name := range servers {
		source, ok := r.sources[name]
		if !ok {
			r.logger.Warn("unknown tool server requested", "server", name)
			continue
		}
		wg.Add(1)
		go func(i int, source Source) {
			defer wg.Done()
			tools, err := source.Tools(ctx)
			if err != nil {
				r.logger.Warn("tool server fetch failed, continuing without it",
					"server", source.Name(), "error", err)
				return
			}
			results[i] = tools
		}(i, source)
	}
	wg.Wait()

	for _, tools := range results {
		resolved = append(resolved, tools...)
	}
	return resolved
}
