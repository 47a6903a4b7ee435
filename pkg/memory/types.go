package memory

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the human user.
	RoleUser Role = "user"

	// RoleAssistant marks a turn authored by the avatar.
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a conversation: a user message or an assistant
// reply. Turns are immutable once persisted.
type Turn struct {
	// ID is the unique identifier for this turn (a UUID).
	ID string

	// UserID identifies the user. Empty for anonymous conversations.
	UserID string

	// AvatarID identifies the avatar persona active for this turn.
	AvatarID string

	// Role is RoleUser or RoleAssistant.
	Role Role

	// Text is the turn content.
	Text string

	// Metadata holds optional structured flags (e.g., "farewell": "true",
	// "video_generating": "<job id>").
	Metadata map[string]string

	// CreatedAt is when the turn was recorded.
	CreatedAt time.Time
}

// Entry is a long-term memory fact scoped to a user.
type Entry struct {
	// ID is the unique identifier for this memory (a UUID).
	ID string

	// UserID is the owning user.
	UserID string

	// Text is the remembered fact.
	Text string

	// Score is the similarity score for search results; zero elsewhere.
	// Higher is more similar.
	Score float64

	// CreatedAt is when the memory was stored.
	CreatedAt time.Time
}

// Snippet is a scored piece of avatar knowledge returned by a retrieval query.
type Snippet struct {
	// ID is the unique identifier of the underlying chunk.
	ID string

	// Namespace is the knowledge namespace the chunk belongs to.
	Namespace string

	// Content is the chunk text.
	Content string

	// Score is the similarity score, higher is more similar.
	Score float64
}
