package messenger

import "context"

// MessageID uniquely identifies a message within a messenger platform.
type MessageID string

// Messenger abstracts communication with a chat platform (Telegram, Slack,
// etc.). Implementations handle platform-specific API calls; the interface
// is platform-agnostic.
type Messenger interface {
	// SendMessage posts a text message to a channel and returns its platform message ID.
	SendMessage(ctx context.Context, channelID, text string) (MessageID, error)

	// SendNotification sends a direct notification to a user by their
	// external platform ID (e.g. Telegram chat ID).
	SendNotification(ctx context.Context, userExternalID, text string) error

	// Platform returns the messenger platform identifier (e.g. "telegram", "slack").
	Platform() string
}
