package discord

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/0324wy/yana/internal/agent"
	"github.com/0324wy/yana/internal/llm"
	"github.com/0324wy/yana/internal/scheduler"
	"github.com/0324wy/yana/internal/session"
)

// --- stripMention ---

func TestStripMention_Standard(t *testing.T) {
	got := stripMention("<@123456> hello", "123456")
	want := " hello"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStripMention_Nickname(t *testing.T) {
	got := stripMention("<@!123456> hello", "123456")
	want := " hello"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStripMention_Both(t *testing.T) {
	got := stripMention("<@123> and <@!123>", "123")
	want := " and "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStripMention_NoMention(t *testing.T) {
	got := stripMention("just text", "123")
	if got != "just text" {
		t.Errorf("got %q, want %q", got, "just text")
	}
}

func TestStripMention_WrongUser(t *testing.T) {
	input := "<@999> hello"
	got := stripMention(input, "123")
	if got != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestStripMention_Empty(t *testing.T) {
	got := stripMention("", "123")
	if got != "" {
		t.Errorf("got %q, want %q", got, "")
	}
}

// --- splitMessage ---

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("hello", 2000)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("expected single chunk 'hello', got %v", chunks)
	}
}

func TestSplitMessage_ExactLimit(t *testing.T) {
	s := strings.Repeat("a", 2000)
	chunks := splitMessage(s, 2000)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestSplitMessage_SplitsAtNewline(t *testing.T) {
	// 15 chars of "a", then newline, then 15 chars of "b" = 31 chars total
	s := strings.Repeat("a", 15) + "\n" + strings.Repeat("b", 15)
	chunks := splitMessage(s, 20)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	// First chunk should split at the newline (16 chars: 15 a's + newline)
	if chunks[0] != strings.Repeat("a", 15)+"\n" {
		t.Errorf("chunk[0] = %q", chunks[0])
	}
	if chunks[1] != strings.Repeat("b", 15) {
		t.Errorf("chunk[1] = %q", chunks[1])
	}
}

func TestSplitMessage_NoNewlineFallback(t *testing.T) {
	// No newlines: hard-split at maxLen
	s := strings.Repeat("x", 50)
	chunks := splitMessage(s, 20)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0] != strings.Repeat("x", 20) {
		t.Errorf("chunk[0] length = %d, want 20", len(chunks[0]))
	}
	if chunks[1] != strings.Repeat("x", 20) {
		t.Errorf("chunk[1] length = %d, want 20", len(chunks[1]))
	}
	if chunks[2] != strings.Repeat("x", 10) {
		t.Errorf("chunk[2] length = %d, want 10", len(chunks[2]))
	}
}

func TestSplitMessage_Empty(t *testing.T) {
	chunks := splitMessage("", 2000)
	if len(chunks) != 1 || chunks[0] != "" {
		t.Errorf("expected single empty chunk, got %v", chunks)
	}
}

func TestSplitMessage_MultipleNewlines(t *testing.T) {
	// Should prefer the LAST newline before the limit
	s := "line1\nline2\nline3\nline4"
	chunks := splitMessage(s, 12)

	// "line1\nline2\n" is 12 chars, split right there
	if chunks[0] != "line1\nline2\n" {
		t.Errorf("chunk[0] = %q, want %q", chunks[0], "line1\nline2\n")
	}
}

// --- respond ---

type fakeRunner struct {
	keys   []string
	inputs []string
	reply  string
	err    error
}

func (r *fakeRunner) RunOnce(ctx context.Context, key, input string, onEvent agent.Handler) (string, error) {
	r.keys = append(r.keys, key)
	r.inputs = append(r.inputs, input)
	return r.reply, r.err
}

type fakeNotes map[string]string

func (n fakeNotes) SetNote(key, value string) error {
	n[key] = value
	return nil
}

func newTestBot(t *testing.T, r *fakeRunner) (*Bot, fakeNotes, *session.FileStore) {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	notes := fakeNotes{}
	return &Bot{runner: r, sessions: store, notes: notes, logger: slog.Default(), ctx: context.Background()}, notes, store
}

func TestAddressed(t *testing.T) {
	user := &discordgo.User{ID: "u1"}
	bot := &discordgo.User{ID: "bot"}
	cases := []struct {
		name string
		msg  *discordgo.Message
		want bool
	}{
		{"dm", &discordgo.Message{Author: user}, true},
		{"own message", &discordgo.Message{Author: bot}, false},
		{"guild without mention", &discordgo.Message{Author: user, GuildID: "g"}, false},
		{"guild with mention", &discordgo.Message{Author: user, GuildID: "g", Mentions: []*discordgo.User{bot}}, true},
		{"no author", &discordgo.Message{}, false},
	}
	for _, tc := range cases {
		if got := addressed(tc.msg, "bot"); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRespond_GuildMention(t *testing.T) {
	r := &fakeRunner{reply: "pong"}
	b, notes, _ := newTestBot(t, r)

	got := b.respond(context.Background(), &discordgo.Message{
		ChannelID: "c1",
		GuildID:   "g",
		Author:    &discordgo.User{ID: "u1"},
		Content:   "<@bot> ping",
	}, "bot")

	if len(got) != 1 || got[0] != "pong" {
		t.Fatalf("unexpected reply: %v", got)
	}
	if len(r.keys) != 1 || r.keys[0] != "discord:c1" || r.inputs[0] != "ping" {
		t.Errorf("unexpected agent call: keys=%v inputs=%v", r.keys, r.inputs)
	}
	if len(notes) != 0 {
		t.Errorf("guild messages should not record a DM user, got %v", notes)
	}
}

func TestRespond_DMRecordsUser(t *testing.T) {
	b, notes, _ := newTestBot(t, &fakeRunner{reply: "hi"})
	b.respond(context.Background(), &discordgo.Message{ChannelID: "dm", Author: &discordgo.User{ID: "u1"}, Content: "hello"}, "bot")
	if notes[scheduler.DeliveryNote] != "u1" {
		t.Errorf("expected DM user to be recorded, got %v", notes)
	}
}

func TestRespond_EmptyAfterMention(t *testing.T) {
	r := &fakeRunner{reply: "x"}
	b, _, _ := newTestBot(t, r)
	got := b.respond(context.Background(), &discordgo.Message{GuildID: "g", Author: &discordgo.User{ID: "u"}, Content: "<@bot>  "}, "bot")
	if got != nil || len(r.keys) != 0 {
		t.Errorf("expected no reply and no agent call, got %v / %v", got, r.keys)
	}
}

func TestRespond_AgentError(t *testing.T) {
	b, _, _ := newTestBot(t, &fakeRunner{err: errors.New("boom")})
	got := b.respond(context.Background(), &discordgo.Message{ChannelID: "c", Author: &discordgo.User{ID: "u"}, Content: "x"}, "bot")
	if len(got) != 1 || got[0] != failureReply {
		t.Errorf("expected failure reply, got %v", got)
	}
}

func TestRespond_LongReplyIsSplit(t *testing.T) {
	b, _, _ := newTestBot(t, &fakeRunner{reply: strings.Repeat("y", maxMessageLen+1)})
	got := b.respond(context.Background(), &discordgo.Message{ChannelID: "c", Author: &discordgo.User{ID: "u"}, Content: "x"}, "bot")
	if len(got) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(got))
	}
}

func TestRespond_Reset(t *testing.T) {
	r := &fakeRunner{}
	b, _, store := newTestBot(t, r)

	s, err := store.GetOrCreate(SessionKey("c"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s.Append(llm.Message{Role: llm.RoleUser, Content: "old"})
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := b.respond(context.Background(), &discordgo.Message{ChannelID: "c", Author: &discordgo.User{ID: "u"}, Content: "!reset"}, "bot")
	if len(got) != 1 || got[0] != "Conversation cleared." {
		t.Errorf("unexpected reply: %v", got)
	}
	if len(r.keys) != 0 {
		t.Errorf("reset should not reach the agent")
	}
	s, _ = store.GetOrCreate(SessionKey("c"))
	if len(s.History) != 0 {
		t.Errorf("expected cleared history, got %d messages", len(s.History))
	}
}
