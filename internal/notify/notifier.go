package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"botmaster/internal/agent"
	"botmaster/internal/messenger"
)

// ErrPlatformNotFound is returned when a messenger platform is not registered.
var ErrPlatformNotFound = errors.New("notify: platform not found") //nolint:gochecknoglobals // sentinel error

type target struct {
	platform  string
	channelID string
}

// Notifier fans operator notifications out to every configured messenger
// channel. Delivery is best effort per channel; Push fails only when every
// channel fails.
type Notifier struct {
	messengers *Registry
	targets    []target
}

// New creates a Notifier over the given messenger registry.
func New(messengers *Registry) *Notifier {
	return &Notifier{messengers: messengers}
}

// Compile-time interface check.
var _ agent.Pusher = (*Notifier)(nil) //nolint:gochecknoglobals // compile-time check

// AddTarget registers an operator channel on a platform.
func (n *Notifier) AddTarget(platform, channelID string) {
	n.targets = append(n.targets, target{platform: platform, channelID: channelID})
}

// Push delivers a notification to all operator channels.
func (n *Notifier) Push(ctx context.Context, text string) error {
	if len(n.targets) == 0 {
		log.Debug().Msg("notify: dropping notification, no operator channels")
		return nil
	}

	delivered := 0
	var lastErr error
	for _, t := range n.targets {
		err := n.NotifyVia(ctx, t.platform, t.channelID, text)
		if err != nil {
			log.Warn().Err(err).Str("platform", t.platform).Msg("notify: channel delivery failed")
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("notify.Notifier.Push: all channels failed: %w", lastErr)
	}

	return nil
}

// NotifyVia sends a notification using a specific platform and channel ID directly.
func (n *Notifier) NotifyVia(ctx context.Context, platform, channelID, text string) error {
	msg, ok := n.messengers.Get(platform)
	if !ok {
		return fmt.Errorf("notify.Notifier.NotifyVia: platform %q: %w", platform, ErrPlatformNotFound)
	}

	if _, err := msg.SendMessage(ctx, channelID, text); err != nil {
		return fmt.Errorf("notify.Notifier.NotifyVia: send: %w", err)
	}

	return nil
}

// Messenger returns the registered messenger for a platform.
func (n *Notifier) Messenger(platform string) (messenger.Messenger, bool) {
	return n.messengers.Get(platform)
}
