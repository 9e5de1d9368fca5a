package twitch

import (
	"testing"
	"time"
)

func TestParseChatMessage(t *testing.T) {
	at := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	t.Run("plain privmsg", func(t *testing.T) {
		msg, ok := ParseChatMessage(":somefan!somefan@somefan.tmi.twitch.tv PRIVMSG #streamer :that was insane", at)
		if !ok {
			t.Fatal("line did not parse")
		}
		if msg.Username != "somefan" {
			t.Fatalf("username = %q, want somefan", msg.Username)
		}
		if msg.Text != "that was insane" {
			t.Fatalf("text = %q", msg.Text)
		}
		if !msg.Timestamp.Equal(at) {
			t.Fatalf("timestamp = %v, want %v", msg.Timestamp, at)
		}
	})

	t.Run("tagged privmsg with badges and emotes", func(t *testing.T) {
		raw := "@badge-info=subscriber/14;badges=subscriber/12,vip/1;color=#FF0000;" +
			"display-name=SomeFan;emotes=25:0-4;user-id=1234 " +
			":somefan!somefan@somefan.tmi.twitch.tv PRIVMSG #streamer :Kappa clip that!!"
		msg, ok := ParseChatMessage(raw, at)
		if !ok {
			t.Fatal("line did not parse")
		}
		if msg.Text != "Kappa clip that!!" {
			t.Fatalf("text = %q", msg.Text)
		}
		if msg.Badges["subscriber"] != "12" || msg.Badges["vip"] != "1" {
			t.Fatalf("badges = %v", msg.Badges)
		}
		if !msg.HasEmotes {
			t.Fatal("emotes tag not detected")
		}
	})

	t.Run("message text containing colons", func(t *testing.T) {
		msg, ok := ParseChatMessage(":a!a@a.tmi.twitch.tv PRIVMSG #ch :score is 3:1 now", at)
		if !ok {
			t.Fatal("line did not parse")
		}
		if msg.Text != "score is 3:1 now" {
			t.Fatalf("text = %q", msg.Text)
		}
	})

	t.Run("non-privmsg lines are skipped", func(t *testing.T) {
		for _, raw := range []string{
			"PING :tmi.twitch.tv",
			":tmi.twitch.tv 001 justinfan12345 :Welcome, GLHF!",
			":somefan!somefan@somefan.tmi.twitch.tv JOIN #streamer",
			"",
		} {
			if _, ok := ParseChatMessage(raw, at); ok {
				t.Fatalf("parsed non-chat line: %q", raw)
			}
		}
	})
}

func TestParseBadges(t *testing.T) {
	if got := parseBadges(""); got != nil {
		t.Fatalf("empty badges = %v, want nil", got)
	}
	got := parseBadges("moderator/1,subscriber/24")
	if got["moderator"] != "1" || got["subscriber"] != "24" {
		t.Fatalf("badges = %v", got)
	}
}
