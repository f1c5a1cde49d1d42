package discord

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/0324wy/yana/internal/scheduler"
)

const (
	maxMessageLen = 2000
	resetCommand  = "!reset"
	failureReply  = "Something went wrong. Try again?"
)

// SessionKey is the session a channel's conversation is stored under.
func SessionKey(channelID string) string {
	return "discord:" + channelID
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State == nil || s.State.User == nil {
		return
	}
	botID := s.State.User.ID
	if !addressed(m.Message, botID) {
		return
	}

	// Show typing indicator
	s.ChannelTyping(m.ChannelID)

	for _, chunk := range b.respond(b.ctx, m.Message, botID) {
		if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			b.logger.Warn("send failed", "channel", m.ChannelID, "error", err)
			return
		}
	}
}

// addressed reports whether the bot should answer m: a DM, or a mention in
// a guild channel. The bot's own messages are ignored.
func addressed(m *discordgo.Message, botID string) bool {
	if m.Author == nil || m.Author.ID == botID {
		return false
	}
	if m.GuildID == "" {
		return true
	}
	for _, u := range m.Mentions {
		if u.ID == botID {
			return true
		}
	}
	return false
}

// respond runs the message through the agent and returns the reply split
// into sendable chunks. Nil means nothing to send.
func (b *Bot) respond(ctx context.Context, m *discordgo.Message, botID string) []string {
	log := b.logger.With("channel", m.ChannelID)

	if m.GuildID == "" && b.notes != nil {
		if err := b.notes.SetNote(scheduler.DeliveryNote, m.Author.ID); err != nil {
			log.Warn("recording DM user", "error", err)
		}
	}

	// Strip mention from message
	content := strings.TrimSpace(stripMention(m.Content, botID))
	if content == "" {
		return nil
	}

	key := SessionKey(m.ChannelID)
	if content == resetCommand {
		if err := b.sessions.Clear(key); err != nil {
			log.Error("clearing session", "error", err)
			return []string{failureReply}
		}
		return []string{"Conversation cleared."}
	}

	reply, err := b.runner.RunOnce(ctx, key, content, nil)
	if err != nil {
		log.Error("agent error", "error", err)
		return []string{failureReply}
	}
	if reply == "" {
		reply = "I ran out of steps before finishing. Try asking more specifically?"
	}
	return splitMessage(reply, maxMessageLen)
}

func stripMention(s, userID string) string {
	s = strings.ReplaceAll(s, "<@"+userID+">", "")
	s = strings.ReplaceAll(s, "<@!"+userID+">", "")
	return s
}

func splitMessage(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}
	var chunks []string
	for len(s) > 0 {
		end := maxLen
		if end > len(s) {
			end = len(s)
		}
		// Try to split at a newline
		if idx := strings.LastIndex(s[:end], "\n"); idx > 0 {
			end = idx + 1
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}
