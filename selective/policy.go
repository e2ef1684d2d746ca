package selective

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Policy is the compiled selective sync rule of a node.
//
// Namespace patterns are globs over full paths with '/' as separator, so
// "gitlab-org/*" matches "gitlab-org/build" but not "gitlab-org/build/tools".
// A project is in scope when its namespace or any ancestor matches. Shard
// patterns match the repository storage name.
type Policy struct {
	syncType       SyncType
	namespaceGlobs []glob.Glob
	shardGlobs     []glob.Glob
}

// NewPolicy compiles the selective sync settings of n
func NewPolicy(n Node) (*Policy, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	p := &Policy{syncType: n.SelectiveSyncType}

	switch n.SelectiveSyncType {
	case SyncNamespaces:
		for _, pattern := range n.Namespaces {
			g, err := glob.Compile(strings.Trim(pattern, "/"), '/')
			if err != nil {
				return nil, fmt.Errorf("invalid namespace pattern %q: %w", pattern, err)
			}
			p.namespaceGlobs = append(p.namespaceGlobs, g)
		}
	case SyncShards:
		for _, pattern := range n.Shards {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid shard pattern %q: %w", pattern, err)
			}
			p.shardGlobs = append(p.shardGlobs, g)
		}
	}

	return p, nil
}

// SyncsEverything is true when no selective sync is configured
func (p *Policy) SyncsEverything() bool {
	return p.syncType == SyncAll
}

// Includes reports whether the project is in scope for this node
func (p *Policy) Includes(project Project) bool {
	switch p.syncType {
	case SyncNamespaces:
		return p.includesNamespace(project.NamespacePath)
	case SyncShards:
		return matchAny(p.shardGlobs, project.RepositoryStorage)
	default:
		return true
	}
}

func (p *Policy) includesNamespace(path string) bool {
	path = strings.Trim(path, "/")
	for path != "" {
		if matchAny(p.namespaceGlobs, path) {
			return true
		}
		i := strings.LastIndexByte(path, '/')
		if i < 0 {
			break
		}
		path = path[:i]
	}
	return false
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
