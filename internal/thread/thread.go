// Package thread defines the persistent conversation data model: Thread,
// Message, Part, and the token/tool-selection records attached to an
// assistant Message. The shapes mirror the relational schema the service
// persists to (see internal/persistence), not a wire format.
package thread

import (
	"time"

	"github.com/google/uuid"
)

// Entity identifies who authored a Message.
type Entity string

const (
	EntityUser      Entity = "user"
	EntityAssistant Entity = "assistant"
)

// PartType identifies the shape of a Part's opaque payload.
type PartType string

const (
	PartMessage           PartType = "message"
	PartReasoning         PartType = "reasoning"
	PartFunctionCall      PartType = "function_call"
	PartFunctionCallOutput PartType = "function_call_output"
)

// Task identifies which kind of LLM call a TokenConsumptionRecord belongs to.
type Task string

const (
	TaskChatCompletion  Task = "chat-completion"
	TaskToolSelection   Task = "tool-selection"
	TaskCallWithinTool  Task = "call-within-tool"
)

// TokenType partitions token counts by how they were billed.
type TokenType string

const (
	TokenInputCached    TokenType = "input-cached"
	TokenInputNoncached TokenType = "input-noncached"
	TokenCompletion     TokenType = "completion"
)

// ReasoningLevel is the reasoning-effort tier the Tool Filter selected for a
// message, persisted alongside its complexity score.
type ReasoningLevel string

const (
	ReasoningNone    ReasoningLevel = "none"
	ReasoningMinimal ReasoningLevel = "minimal"
	ReasoningLow     ReasoningLevel = "low"
	ReasoningMedium  ReasoningLevel = "medium"
	ReasoningHigh    ReasoningLevel = "high"
)

// Thread is a persistent conversation container owned by exactly one user,
// optionally scoped to a virtual-lab/project pair. VLabID and ProjectID are
// immutable after creation: they are authoritative, together with UserID,
// for every access check (see internal/authgate).
type Thread struct {
	ThreadID     uuid.UUID
	UserID       string
	VLabID       *uuid.UUID
	ProjectID    *uuid.UUID
	Title        string
	CreationDate time.Time
	UpdateDate   time.Time
}

// NewThread builds a Thread with the default title, ready for insertion.
func NewThread(userID string, vlabID, projectID *uuid.UUID) Thread {
	now := time.Now().UTC()
	return Thread{
		ThreadID:     uuid.New(),
		UserID:       userID,
		VLabID:       vlabID,
		ProjectID:    projectID,
		Title:        "New chat",
		CreationDate: now,
		UpdateDate:   now,
	}
}

// Message is one turn in a Thread. A single assistant Message may span many
// LLM turns (Stream Engine calls it repeatedly across tool rounds, HIL
// resumes, etc.) before it is considered complete.
type Message struct {
	MessageID    uuid.UUID
	ThreadID     uuid.UUID
	Entity       Entity
	CreationDate time.Time

	Parts             []Part
	ToolSelections    []ToolSelectionRecord
	TokenConsumption  []TokenConsumptionRecord
	Complexity        *ComplexityEstimation
}

// NewMessage builds a Message with no parts yet, ready for insertion.
func NewMessage(threadID uuid.UUID, entity Entity) Message {
	return Message{
		MessageID:    uuid.New(),
		ThreadID:     threadID,
		Entity:       entity,
		CreationDate: time.Now().UTC(),
	}
}

// Incomplete reports whether this assistant Message has no trailing MESSAGE
// part yet, i.e. it is eligible to be reopened by a subsequent request to
// the same Thread (HIL resume or interrupted stream) rather than starting a
// fresh assistant Message. See internal/streamengine for the reopen rule.
func (m Message) Incomplete() bool {
	if m.Entity != EntityAssistant {
		return false
	}
	if len(m.Parts) == 0 {
		return true
	}
	last := m.Parts[len(m.Parts)-1]
	return last.Type != PartMessage
}

// NextOrderIndex returns the order_index the next appended Part must use to
// keep the dense, zero-based ordering invariant.
func (m Message) NextOrderIndex() int {
	return len(m.Parts)
}

// Part is an ordered, immutable (except Validated) fragment of a Message.
// Output is opaque JSON conforming to one of the four payload shapes
// documented in SPEC_FULL.md §3; storage never interprets it.
type Part struct {
	PartID       uuid.UUID
	MessageID    uuid.UUID
	OrderIndex   int
	Type         PartType
	Output       []byte // raw JSON
	IsComplete   bool
	Validated    *bool // nil = not required/pending, true = accepted, false = rejected
	CreationDate time.Time
}

// NewPart appends a new Part to message at the next dense order index.
func NewPart(message *Message, typ PartType, output []byte) Part {
	p := Part{
		PartID:       uuid.New(),
		MessageID:    message.MessageID,
		OrderIndex:   message.NextOrderIndex(),
		Type:         typ,
		Output:       output,
		IsComplete:   true,
		CreationDate: time.Now().UTC(),
	}
	message.Parts = append(message.Parts, p)
	return p
}

// TokenConsumptionRecord is an append-only accounting row attached to the
// assistant Message that caused the LLM call.
type TokenConsumptionRecord struct {
	ID        int64
	MessageID uuid.UUID
	Type      TokenType
	Task      Task
	Count     int
	Model     string
}

// ToolSelectionRecord captures one tool the Tool Filter admitted into the
// catalog for the request that produced a given assistant Message.
type ToolSelectionRecord struct {
	ID        int64
	MessageID uuid.UUID
	ToolName  string
}

// ComplexityEstimation records the Tool Filter's complexity score and the
// reasoning tier it implied for a given assistant Message. This is a
// supplement over the distilled spec: see SPEC_FULL.md §3.
type ComplexityEstimation struct {
	ID         int64
	MessageID  uuid.UUID
	Complexity *int
	Model      string
	Reasoning  *ReasoningLevel
}
