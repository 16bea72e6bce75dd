package domain

import "time"

// Role attributes a block's authorship (spec §3).
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// Kind tags what a block contains.
type Kind string

const (
	KindText       Kind = "text"
	KindThinking   Kind = "thinking"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindFile       Kind = "file"
)

// Status is monotone within a logical session but updatable by any
// participant under last-writer-wins (spec §3).
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusAborted   Status = "aborted"
	StatusError     Status = "error"
)

// DisplayHintKind selects the shape of a DisplayHint, the structured
// rendering hint described in spec §4.5. Exactly one group of DisplayHint's
// kind-specific fields is meaningful, selected by Kind.
type DisplayHintKind string

const (
	DisplayHintNone      DisplayHintKind = ""
	DisplayHintFormatted DisplayHintKind = "formatted"
	DisplayHintTable     DisplayHintKind = "table"
	DisplayHintTree      DisplayHintKind = "tree"
)

type DisplayHint struct {
	Kind DisplayHintKind `json:"kind,omitempty"`

	// Formatted
	FormattedUser  string `json:"formattedUser,omitempty"`
	FormattedModel string `json:"formattedModel,omitempty"`

	// Table
	TableHeaders   []string   `json:"tableHeaders,omitempty"`
	TableRows      [][]string `json:"tableRows,omitempty"`
	TableEntryTypes []string  `json:"tableEntryTypes,omitempty"`

	// Tree
	TreeRoot        string `json:"treeRoot,omitempty"`
	TreeTraditional string `json:"treeTraditional,omitempty"`
	TreeCompact     string `json:"treeCompact,omitempty"`
}

// Header carries the LWW non-text fields of a block (spec §3, §4.1).
// Lamport is the logical clock used for the LWW tiebreak; Deleted is the
// sole monotone field.
type Header struct {
	Collapsed bool `json:"collapsed"`
	Compacted bool `json:"compacted"`
	Deleted   bool `json:"deleted"`

	Status Status `json:"status"`

	Lamport     uint64      `json:"lamport"`
	LamportAuthor PrincipalId `json:"lamportAuthor"`

	UpdatedAt time.Time `json:"updatedAt"`

	// kind-specific metadata
	ToolName        string      `json:"toolName,omitempty"`
	ToolInput       string      `json:"toolInput,omitempty"`
	ToolCallId      BlockId     `json:"toolCallId,omitzero"`
	ExitCode        *int        `json:"exitCode,omitempty"`
	IsError         bool        `json:"isError,omitempty"`
	DisplayHint     DisplayHint `json:"displayHint,omitempty"`
	SourceContextId ContextId   `json:"sourceContextId,omitempty"`
	FilePath        string      `json:"filePath,omitempty"`
}

// lamportWins reports whether candidate should win LWW arbitration over
// current: higher lamport wins, principal id is the tiebreak (spec §4.1).
func lamportWins(candLamport uint64, candAuthor PrincipalId, curLamport uint64, curAuthor PrincipalId) bool {
	if candLamport != curLamport {
		return candLamport > curLamport
	}
	return candAuthor > curAuthor
}

// ApplyHeaderLWW merges an incoming header write into h, respecting the LWW
// tiebreak and the monotonicity of Deleted (spec invariant I6, property
// P3). It mutates h in place and returns whether the incoming write won.
func (h *Header) ApplyHeaderLWW(incoming Header) bool {
	// Deleted is monotone: once true, merging never reverts it, regardless
	// of Lamport ordering.
	wasDeleted := h.Deleted
	won := lamportWins(incoming.Lamport, incoming.LamportAuthor, h.Lamport, h.LamportAuthor)
	if won {
		deleted := h.Deleted || incoming.Deleted
		*h = incoming
		h.Deleted = deleted || wasDeleted
	} else if incoming.Deleted {
		h.Deleted = true
	}
	return won
}

// Block is one node in a document's block tree (spec §3).
type Block struct {
	Id       BlockId        `json:"id"`
	ParentId *BlockId       `json:"parentId,omitempty"`
	OrderKey string         `json:"orderKey"`
	Role     Role           `json:"role"`
	Kind     Kind           `json:"kind"`
	Header   Header         `json:"header"`
}

// Snapshot is the immutable, pure-read view returned by BlockSnapshot
// (spec §4.2): header, order key, and materialized content together.
type Snapshot struct {
	Block
	Content string `json:"content"`
}
