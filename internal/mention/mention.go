// Package mention extracts @name references from comment text and
// resolves them against known agents (C4). Case-insensitive resolution
// mirrors internal/store's COLLATE NOCASE agent name lookup.
package mention

import (
	"regexp"
	"strings"

	"github.com/madhatter5501/dispatchd/internal/domain"
)

// handleRe matches an '@' followed by one or more word characters,
// hyphens, or dots — permissive enough for agent names like "dev-frontend"
// or "qa.bot" without swallowing trailing punctuation.
var handleRe = regexp.MustCompile(`@(\w+(?:[.-]\w+)*)`)

// Extract returns the distinct set of raw @handles found in text, in
// first-occurrence order, without the leading '@'.
func Extract(text string) []string {
	matches := handleRe.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, m := range matches {
		name := m[1]
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

// AgentLookup resolves an agent by case-insensitive name, as implemented
// by store.AgentStore.GetAgentByName.
type AgentLookup func(name string) (*domain.Agent, error)

// Resolve extracts handles from text and resolves each one to a known,
// enabled agent via lookup. Unknown handles and disabled agents are
// silently skipped (they are not errors — a stray '@' in prose is not a
// dispatch request that failed, it simply resolves to nothing per §4.3).
func Resolve(text string, lookup AgentLookup) []domain.Agent {
	handles := Extract(text)
	if len(handles) == 0 {
		return nil
	}
	var resolved []domain.Agent
	for _, h := range handles {
		agent, err := lookup(h)
		if err != nil || agent == nil {
			continue
		}
		if !agent.Enabled {
			continue
		}
		resolved = append(resolved, *agent)
	}
	return resolved
}
