// Package types provides shared type definitions used across cortex packages.
// This package exists to break import cycles between store, ingest, memory and
// search. Types in this package should be foundational data structures with no
// complex dependencies.
package types

import (
	"net/url"

	"github.com/google/uuid"
)

// =============================================================================
// TYPED IDENTIFIERS
// =============================================================================

// Identifiers are opaque strings (UUIDs or content-derived). Each entity kind
// gets its own wrapper so they are never mixed up at call sites.

// WorkspaceID identifies a workspace.
type WorkspaceID string

// VNodeID identifies a virtual file or directory node.
type VNodeID string

// CodeUnitID identifies a code unit.
type CodeUnitID string

// DependencyID identifies a dependency edge.
type DependencyID string

// EpisodeID identifies an episodic memory record.
type EpisodeID string

// PatternID identifies a procedural memory pattern.
type PatternID string

func (id WorkspaceID) String() string  { return string(id) }
func (id VNodeID) String() string      { return string(id) }
func (id CodeUnitID) String() string   { return string(id) }
func (id DependencyID) String() string { return string(id) }
func (id EpisodeID) String() string    { return string(id) }
func (id PatternID) String() string    { return string(id) }

// NewWorkspaceID returns a fresh random workspace id.
func NewWorkspaceID() WorkspaceID { return WorkspaceID(uuid.NewString()) }

// NewVNodeID returns a fresh random vnode id.
func NewVNodeID() VNodeID { return VNodeID(uuid.NewString()) }

// NewCodeUnitID returns a fresh random code unit id.
func NewCodeUnitID() CodeUnitID { return CodeUnitID(uuid.NewString()) }

// NewDependencyID returns a fresh random dependency id.
func NewDependencyID() DependencyID { return DependencyID(uuid.NewString()) }

// NewEpisodeID returns a fresh random episode id.
func NewEpisodeID() EpisodeID { return EpisodeID(uuid.NewString()) }

// NewPatternID returns a fresh random pattern id.
func NewPatternID() PatternID { return PatternID(uuid.NewString()) }

// EncodeNamespace turns an arbitrary path-like string into a reversible
// namespace component. Percent-encoding keeps paths containing '-' or '/'
// distinguishable, unlike lossy slash-to-dash rewriting.
func EncodeNamespace(s string) string {
	return url.PathEscape(s)
}

// DecodeNamespace reverses EncodeNamespace.
func DecodeNamespace(s string) (string, error) {
	return url.PathUnescape(s)
}
