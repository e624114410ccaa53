// Package agentid formats and parses the scheduler's agent identifiers:
// "cluster/role/env/name" (spec.md §4.1).
package agentid

import (
	"fmt"
	"regexp"
	"strings"
)

// nameRE matches the generated-name suffix the admission logic allocates:
// tag-agent-N, e.g. "build-agent-0".
var nameRE = regexp.MustCompile(`^[a-z]+-agent-[0-9]+$`)

// ID is a parsed agent identifier.
type ID struct {
	Cluster string
	Role    string
	Env     string
	Name    string
}

// Form builds the canonical "cluster/role/env/name" string for an agent id.
func Form(cluster, role, env, name string) string {
	return strings.Join([]string{cluster, role, env, name}, "/")
}

// String renders the id back to its canonical form.
func (id ID) String() string {
	return Form(id.Cluster, id.Role, id.Env, id.Name)
}

// Parse splits a well-formed "cluster/role/env/name" string into its parts
// and validates the name segment against the generated-name pattern. An
// ill-formed id (wrong number of segments, or a name that doesn't match
// "[a-z]+-agent-[0-9]+") is reported via ok=false so callers can treat
// identifiers that aren't ours as "not one of ours" (spec.md §4.1).
func Parse(raw string) (id ID, ok bool) {
	parts := strings.Split(raw, "/")
	if len(parts) != 4 {
		return ID{}, false
	}
	for _, p := range parts {
		if p == "" {
			return ID{}, false
		}
	}
	if !nameRE.MatchString(parts[3]) {
		return ID{}, false
	}
	return ID{Cluster: parts[0], Role: parts[1], Env: parts[2], Name: parts[3]}, true
}

// MustParse is Parse but panics on an ill-formed id; only safe for ids this
// package itself formed (e.g. in tests).
func MustParse(raw string) ID {
	id, ok := Parse(raw)
	if !ok {
		panic(fmt.Sprintf("agentid: ill-formed id %q", raw))
	}
	return id
}

// AgentName builds the "tag-agent-N" name segment used by the admission
// logic's name allocator (spec.md §4.10).
func AgentName(tag string, n int) string {
	return fmt.Sprintf("%s-agent-%d", tag, n)
}
