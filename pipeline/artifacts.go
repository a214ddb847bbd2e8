package pipeline

// Design artifacts accumulated across pipeline stages. These are the values
// the cross-validation engine inspects; each stage produces or refines some
// subset of them.

// Requirement is one analyzed product requirement.
type Requirement struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Entity is a higher-level domain concept that must map to a concrete
// storage structure by the time validation runs.
type Entity struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Table optionally names the storage structure this entity maps to.
	// When empty, validation matches by normalized name.
	Table string `json:"table,omitempty"`
}

// Column is one field of a storage structure.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// References declares a cross-reference to another structure, either
	// "table" or "table.column". Empty means no reference.
	References string `json:"references,omitempty"`
}

// Table is a concrete storage structure produced by the schema stage.
type Table struct {
	Name string `json:"name"`

	// Entity names the domain entity this structure realizes.
	Entity string `json:"entity,omitempty"`

	// Protected marks structures holding user-owned rows; writes to them
	// must come through authenticated endpoints.
	Protected bool `json:"protected,omitempty"`

	Columns []Column `json:"columns,omitempty"`
}

// Endpoint is one consumer-facing operation produced by the contract stage.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`

	// Access is the declared access-control requirement: "public" or "auth".
	Access string `json:"access"`

	// Reads and Writes name the storage structures this endpoint touches.
	Reads  []string `json:"reads,omitempty"`
	Writes []string `json:"writes,omitempty"`

	Description string `json:"description,omitempty"`
}

// Component is one architectural unit of the blueprint.
type Component struct {
	Name      string   `json:"name"`
	Role      string   `json:"role,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Blueprint is the architecture produced by the blueprint stage.
type Blueprint struct {
	Summary    string      `json:"summary"`
	Components []Component `json:"components,omitempty"`
}

// Task is one unit of the implementation breakdown.
type Task struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Component string   `json:"component,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	Paths     []string `json:"paths,omitempty"`
}

// Artifact is one entry of the produced-artifact registry, keyed by path.
type Artifact struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Stage string `json:"stage"`
}

// QA pairs a clarification question with the human's answer. Answers
// accumulate keyed by question, so re-answering replaces in place.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
