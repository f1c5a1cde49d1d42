// Package discord is the chat front end: DMs and mentions become agent
// turns, one session per channel.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/0324wy/yana/internal/agent"
	"github.com/0324wy/yana/internal/session"
)

// Runner executes one agent turn.
type Runner interface {
	RunOnce(ctx context.Context, key, input string, onEvent agent.Handler) (string, error)
}

// NoteStore records who to DM scheduled results to.
type NoteStore interface {
	SetNote(key, value string) error
}

type Bot struct {
	session  *discordgo.Session
	runner   Runner
	sessions session.Store
	notes    NoteStore
	logger   *slog.Logger
	ctx      context.Context
}

func NewBot(token string, runner Runner, sessions session.Store, notes NoteStore, logger *slog.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating Discord session: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	bot := &Bot{
		session:  s,
		runner:   runner,
		sessions: sessions,
		notes:    notes,
		logger:   logger.With("component", "discord"),
		ctx:      context.Background(),
	}
	s.AddHandler(bot.onMessage)
	s.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	return bot, nil
}

// Run connects and serves messages until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening Discord connection: %w", err)
	}
	b.logger.Info("connected", "user", b.session.State.User.Username)

	<-ctx.Done()
	return b.session.Close()
}

// SendDM sends content to a user's DM channel, split to fit Discord's
// message limit.
func (b *Bot) SendDM(userID, content string) error {
	ch, err := b.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("opening DM channel: %w", err)
	}
	for _, chunk := range splitMessage(content, maxMessageLen) {
		if _, err := b.session.ChannelMessageSend(ch.ID, chunk); err != nil {
			return fmt.Errorf("sending DM: %w", err)
		}
	}
	return nil
}
