package provide

import (
	"fmt"
	"sort"
	"strings"
)

// Status is a diagnostic tool that returns a string describing every
// provider the registry knows about: its kind, its declared dependencies,
// and whether it is a request input or an incomplete forward declaration.
// Providers are listed in name order.
func (r *Registry) Status() string {
	r.mu.Lock()
	defs := append([]*definition(nil), r.defs...)
	r.mu.Unlock()

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].name < defs[j].name
	})

	result := strings.Builder{}
	for _, def := range defs {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		switch {
		case !def.registered:
			result.WriteString(fmt.Sprintf("%s - declared, not registered", def.name))
		case def.input:
			result.WriteString(fmt.Sprintf("%s - request input", def.name))
		default:
			result.WriteString(fmt.Sprintf("%s - %s%s", def.name, def.kind, formatDepsDebug(def.deps)))
		}
	}
	return result.String()
}

// Status returns a string describing the state of this resolution context:
// which providers have resolved or failed so far, and how many teardowns are
// pending. Useful when logging a request that went sideways.
func (c *Context) Status() string {
	lines := make([]string, 0, len(c.resolved)+len(c.failed))
	for id := range c.resolved {
		lines = append(lines, fmt.Sprintf("%s - resolved", id.Name()))
	}
	for id, err := range c.failed {
		lines = append(lines, fmt.Sprintf("%s - failed: %v", id.Name(), err))
	}
	sort.Strings(lines)

	result := strings.Builder{}
	for _, line := range lines {
		result.WriteString(line)
		result.WriteString("\n")
	}
	result.WriteString(fmt.Sprintf("pending teardowns: %d", c.TeardownCount()))
	return result.String()
}

// DependencyTree renders the dependency tree under a target, one provider
// per line with tree connectors. A provider reachable through several paths
// appears once per path; the resolver still computes it only once.
//
//	claims (simple)
//	├─> auth_header (request input)
//	└─> config (cached)
func (r *Registry) DependencyTree(id ProviderID) (string, error) {
	def, err := r.definitionFor(id)
	if err != nil {
		return "", err
	}
	result := strings.Builder{}
	writeTreeNode(&result, def, "", "")
	return result.String(), nil
}

func writeTreeNode(sb *strings.Builder, def *definition, connector, childPrefix string) {
	sb.WriteString(connector)
	if def.input {
		sb.WriteString(fmt.Sprintf("%s (request input)\n", def.name))
	} else {
		sb.WriteString(fmt.Sprintf("%s (%s)\n", def.name, def.kind))
	}
	for i, dep := range def.deps {
		if i == len(def.deps)-1 {
			writeTreeNode(sb, dep.def, childPrefix+"└─> ", childPrefix+"    ")
		} else {
			writeTreeNode(sb, dep.def, childPrefix+"├─> ", childPrefix+"│   ")
		}
	}
}

func formatDepsDebug(deps []ProviderID) string {
	if len(deps) == 0 {
		return ""
	}
	names := make([]string, len(deps))
	for i, dep := range deps {
		names[i] = dep.Name()
	}
	return fmt.Sprintf(", deps: [%s]", strings.Join(names, " "))
}
