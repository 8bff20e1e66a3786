package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

// Discord caps message content at 2000 characters.
const discordMaxContent = 2000

type channelSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts notifications to one channel. It only uses the REST
// API, so the session never needs to be opened.
type DiscordSink struct {
	sender    channelSender
	channelID string
	renderer  *Renderer
}

func NewDiscordSink(token, channelID string, renderer *Renderer) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	return &DiscordSink{sender: session, channelID: channelID, renderer: renderer}, nil
}

func (s *DiscordSink) Notify(ctx context.Context, n interfaces.Notification) error {
	msg, err := s.renderer.Render(n)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("**%s**\n%s", msg.Subject, msg.Markdown)
	if runes := []rune(content); len(runes) > discordMaxContent {
		content = string(runes[:discordMaxContent-1]) + "…"
	}

	if _, err := s.sender.ChannelMessageSend(s.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("post to discord channel %s: %w: %w", s.channelID, errs.ErrExternalDispatchFailed, err)
	}
	return nil
}

var _ interfaces.Notifier = (*DiscordSink)(nil)
