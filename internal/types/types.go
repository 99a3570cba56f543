package types

import (
	"time"
)

// =============================================================================
// WORKSPACE
// =============================================================================

// WorkspaceType classifies what a workspace holds.
type WorkspaceType string

const (
	WorkspaceCode          WorkspaceType = "code"
	WorkspaceDocumentation WorkspaceType = "documentation"
	WorkspaceMixed         WorkspaceType = "mixed"
	WorkspaceExternal      WorkspaceType = "external"
)

// SourceType records where a workspace's content comes from.
type SourceType string

const (
	SourceLocal     SourceType = "local"
	SourceRemote    SourceType = "remote"
	SourceSynthetic SourceType = "synthetic"
)

// Workspace is a logical namespace owning files and code units.
// (namespace, name) is unique; forks carry an immutable parent pointer.
type Workspace struct {
	ID              WorkspaceID   `json:"id"`
	Name            string        `json:"name"`
	Type            WorkspaceType `json:"type"`
	SourceType      SourceType    `json:"source_type"`
	Namespace       string        `json:"namespace"`
	SourcePath      string        `json:"source_path,omitempty"`
	ReadOnly        bool          `json:"read_only"`
	ParentWorkspace WorkspaceID   `json:"parent_workspace,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Version         int64         `json:"version"`
}

// =============================================================================
// VIRTUAL NODES
// =============================================================================

// VNodeKind distinguishes files from directories.
type VNodeKind string

const (
	VNodeFile      VNodeKind = "file"
	VNodeDirectory VNodeKind = "directory"
)

// VirtualNode is the metadata record for a file or directory inside a
// workspace. Content is stored content-addressed: multiple nodes with
// identical bytes share one blob keyed by lowercase hex SHA-256.
type VirtualNode struct {
	ID          VNodeID     `json:"id"`
	WorkspaceID WorkspaceID `json:"workspace_id"`
	Path        string      `json:"path"` // POSIX, workspace-relative
	Kind        VNodeKind   `json:"kind"`
	ContentHash string      `json:"content_hash,omitempty"` // files only
	Size        int64       `json:"size"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// =============================================================================
// CODE UNITS
// =============================================================================

// UnitType classifies a code unit.
type UnitType string

const (
	UnitFunction      UnitType = "function"
	UnitMethod        UnitType = "method"
	UnitStruct        UnitType = "struct"
	UnitClass         UnitType = "class"
	UnitInterface     UnitType = "interface"
	UnitTrait         UnitType = "trait"
	UnitEnum          UnitType = "enum"
	UnitModule        UnitType = "module"
	UnitTypeAlias     UnitType = "type_alias"
	UnitConstant      UnitType = "constant"
	UnitVariable      UnitType = "variable"
	UnitAsyncFunction UnitType = "async_function"
)

// Visibility classifies a unit's access level.
type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityPublicCrate Visibility = "public_crate"
	VisibilityPrivate     Visibility = "private"
	VisibilityProtected   Visibility = "protected"
)

// Span locates a unit inside its source file.
type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	StartCol  int `json:"start_col"`
	EndCol    int `json:"end_col"`
	StartByte int `json:"start_byte"`
	EndByte   int `json:"end_byte"`
}

// Parameter is a single declared parameter of a function or method.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// CodeUnit is a named program entity with span and metrics.
// (workspace_id, qualified_name, file_path, start_byte) is unique.
type CodeUnit struct {
	ID               CodeUnitID             `json:"id"`
	WorkspaceID      WorkspaceID            `json:"workspace_id"`
	FilePath         string                 `json:"file_path"`
	UnitType         UnitType               `json:"unit_type"`
	Name             string                 `json:"name"`
	QualifiedName    string                 `json:"qualified_name"`
	DisplayName      string                 `json:"display_name"`
	Language         string                 `json:"language"`
	Span             Span                   `json:"span"`
	Signature        string                 `json:"signature"`
	Body             string                 `json:"body,omitempty"`
	Docstring        string                 `json:"docstring,omitempty"`
	Visibility       Visibility             `json:"visibility"`
	IsAsync          bool                   `json:"is_async"`
	IsUnsafe         bool                   `json:"is_unsafe"`
	IsExported       bool                   `json:"is_exported"`
	Parameters       []Parameter            `json:"parameters,omitempty"`
	ReturnType       string                 `json:"return_type,omitempty"`
	TypeParameters   []string               `json:"type_parameters,omitempty"`
	Attributes       []string               `json:"attributes,omitempty"`
	Complexity       Complexity             `json:"complexity"`
	HasTests         bool                   `json:"has_tests"`
	HasDocumentation bool                   `json:"has_documentation"`
	TestCoverage     *float64               `json:"test_coverage,omitempty"`
	LanguageSpecific map[string]OpaqueValue `json:"language_specific,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	ContentHash      string                 `json:"content_hash,omitempty"`
	EmbeddingPending bool                   `json:"embedding_pending,omitempty"`
	Version          int64                  `json:"version"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

// DependencyKind is the typed relation of a dependency edge.
type DependencyKind string

const (
	DepImports      DependencyKind = "imports"
	DepCalls        DependencyKind = "calls"
	DepUsesType     DependencyKind = "uses_type"
	DepExtends      DependencyKind = "extends"
	DepImplements   DependencyKind = "implements"
	DepReferences   DependencyKind = "references"
	DepInstantiates DependencyKind = "instantiates"
)

// Dependency is a typed directed edge between code units. Self-loops are
// forbidden; (source, target, kind) is unique. TargetName carries unresolved
// targets until a later resolution sweep materializes TargetUnitID.
type Dependency struct {
	ID           DependencyID           `json:"id"`
	SourceUnitID CodeUnitID             `json:"source_unit_id"`
	TargetUnitID CodeUnitID             `json:"target_unit_id,omitempty"`
	TargetName   string                 `json:"target_name,omitempty"`
	Kind         DependencyKind         `json:"kind"`
	IsDirect     bool                   `json:"is_direct"`
	IsRuntime    bool                   `json:"is_runtime"`
	IsDev        bool                   `json:"is_dev"`
	Metadata     map[string]OpaqueValue `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Resolved reports whether the edge points at a materialized unit.
func (d Dependency) Resolved() bool { return d.TargetUnitID != "" }

// =============================================================================
// MEMORY ENTITIES
// =============================================================================

// Episode records an agent action and its outcome.
type Episode struct {
	ID              EpisodeID   `json:"id"`
	AgentID         string      `json:"agent_id"`
	TaskType        string      `json:"task_type"`
	Context         OpaqueValue `json:"context"`
	ActionTaken     string      `json:"action_taken"`
	Outcome         string      `json:"outcome"`
	Success         bool        `json:"success"`
	LearnedPatterns []string    `json:"learned_patterns,omitempty"`
	Importance      float64     `json:"importance"` // [0,1]
	LastAccessed    time.Time   `json:"last_accessed"`
	Timestamp       time.Time   `json:"timestamp"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Version         int64       `json:"version"`
}

// PatternType classifies a learned pattern.
type PatternType string

const (
	PatternCode     PatternType = "code_pattern"
	PatternError    PatternType = "error_pattern"
	PatternWorkflow PatternType = "workflow_pattern"
)

// Pattern is a generalized, reusable lesson extracted from episodes.
type Pattern struct {
	ID          PatternID   `json:"id"`
	Name        string      `json:"name"`
	PatternType PatternType `json:"pattern_type"`
	Context     string      `json:"context"`
	Solution    string      `json:"solution"`
	Confidence  float64     `json:"confidence"` // [0,1]
	UsageCount  int64       `json:"usage_count"`
	SuccessRate float64     `json:"success_rate"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Version     int64       `json:"version"`
}

// Priority orders working-memory retention.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Weight maps a priority to a retention weight in [0,1].
func (p Priority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.75
	case PriorityMedium:
		return 0.5
	default:
		return 0.25
	}
}

// WorkingItem is a working-memory entry. Never persisted to disk.
type WorkingItem struct {
	Key          string    `json:"key"`
	Value        []byte    `json:"value"`
	Priority     Priority  `json:"priority"`
	SizeBytes    int       `json:"size_bytes"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
	CreatedAt    time.Time `json:"created_at"`
}
