// Package selective decides which replication work a Geo secondary takes on.
//
// A node either syncs everything or is restricted to a set of namespaces or
// repository storage shards. Policy turns the node settings into a membership
// check over projects, and ProjectResolver supplies the project attributes
// that check needs in one lookup per batch.
package selective

import (
	"context"
	"errors"
	"fmt"
)

// SyncType is the selective sync mode of a node
type SyncType string

const (
	SyncAll        SyncType = ""
	SyncNamespaces SyncType = "namespaces"
	SyncShards     SyncType = "shards"
)

// ErrNodeNotFound is returned when the current node is not registered
var ErrNodeNotFound = errors.New("geo node not found")

// Node is the Geo node this cursor runs on
type Node struct {
	ID                int64    `toml:"id" json:"id"`
	Name              string   `toml:"name" json:"name"`
	Primary           bool     `toml:"primary" json:"primary"`
	Enabled           bool     `toml:"enabled" json:"enabled"`
	SelectiveSyncType SyncType `toml:"selective_sync_type" json:"selective_sync_type"`
	Namespaces        []string `toml:"namespaces" json:"namespaces"`
	Shards            []string `toml:"shards" json:"shards"`
}

// IsSecondary reports whether the node should consume the event log
func (n Node) IsSecondary() bool {
	return n.ID > 0 && n.Enabled && !n.Primary
}

// Validate checks the selective sync settings
func (n Node) Validate() error {
	switch n.SelectiveSyncType {
	case SyncAll, SyncNamespaces, SyncShards:
		return nil
	default:
		return fmt.Errorf("unknown selective sync type %q", n.SelectiveSyncType)
	}
}

// NodeProvider returns the current node settings
type NodeProvider interface {
	CurrentNode(ctx context.Context) (Node, error)
}

// StaticNodeProvider serves a node fixed in configuration
type StaticNodeProvider struct {
	Node Node
}

func (p StaticNodeProvider) CurrentNode(context.Context) (Node, error) {
	return p.Node, nil
}
