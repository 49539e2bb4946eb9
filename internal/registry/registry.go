// Package registry resolves integration names to MCP server configs
// scraped from the agent CLI's config file (~/.claude.json).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrIntegrationNotFound indicates an integration name with no config.
var ErrIntegrationNotFound = errors.New("integration not found")

// ServerConfig is one MCP server definition, passed through verbatim to
// the agent dispatcher.
type ServerConfig struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

// Resolver maps integration names to server configs. The scheduler loop
// consumes this interface; tests substitute a stub.
type Resolver interface {
	Resolve(names []string) (map[string]ServerConfig, error)
}

// Registry loads MCP server definitions from the agent config file, both
// top-level mcpServers and per-project entries (first definition wins).
type Registry struct {
	servers map[string]ServerConfig
	sources map[string]string // server name -> where it was defined
}

type agentConfig struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
	Projects   map[string]struct {
		MCPServers map[string]ServerConfig `json:"mcpServers"`
	} `json:"projects"`
}

// Load reads the agent config at path. A missing file yields an empty
// registry, not an error; an unreadable or malformed file is an error.
func Load(path string) (*Registry, error) {
	r := &Registry{
		servers: make(map[string]ServerConfig),
		sources: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var cfg agentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}

	for name, sc := range cfg.MCPServers {
		r.servers[name] = sc
		r.sources[name] = "global"
	}
	// Deterministic project order so "first one wins" is stable.
	projectPaths := make([]string, 0, len(cfg.Projects))
	for p := range cfg.Projects {
		projectPaths = append(projectPaths, p)
	}
	sort.Strings(projectPaths)
	for _, p := range projectPaths {
		for name, sc := range cfg.Projects[p].MCPServers {
			if _, ok := r.servers[name]; ok {
				continue
			}
			r.servers[name] = sc
			r.sources[name] = p
		}
	}
	return r, nil
}

// Resolve returns configs for every requested name, or
// ErrIntegrationNotFound naming the first unknown one.
func (r *Registry) Resolve(names []string) (map[string]ServerConfig, error) {
	out := make(map[string]ServerConfig, len(names))
	for _, name := range names {
		sc, ok := r.servers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrIntegrationNotFound, name)
		}
		out[name] = sc
	}
	return out, nil
}

// ProjectServers returns the servers defined for a project directory,
// trying the path as given and then its absolute form.
func (r *Registry) ProjectServers(path string) map[string]ServerConfig {
	out := make(map[string]ServerConfig)
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for name, src := range r.sources {
		if src == path || src == abs {
			out[name] = r.servers[name]
		}
	}
	return out
}

// Names returns all known integration names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.servers))
	for n := range r.servers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe renders one line per server for the mcps command.
func (r *Registry) Describe(verbose bool) []string {
	var lines []string
	for _, name := range r.Names() {
		sc := r.servers[name]
		typ := sc.Type
		if typ == "" {
			typ = "stdio"
		}
		detail := sc.Command
		if typ == "sse" || typ == "http" {
			detail = sc.URL
		}
		if verbose {
			lines = append(lines, fmt.Sprintf("  %s (%s): %s\n    Source: %s", name, typ, detail, r.sources[name]))
		} else {
			lines = append(lines, fmt.Sprintf("  %s (%s)", name, typ))
		}
	}
	return lines
}
