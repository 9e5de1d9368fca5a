package twitch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KenB-Good/ClipMaster/types"
)

const ircURL = "wss://irc-ws.chat.twitch.tv:443"

// ChatClient reads a channel's chat over Twitch's IRC-over-websocket gateway
// using the anonymous login, which needs no credentials.
type ChatClient struct {
	channel string
	conn    *websocket.Conn
}

// NewChatClient prepares a client for one channel. Connect must be called
// before Listen.
func NewChatClient(channel string) *ChatClient {
	return &ChatClient{channel: strings.ToLower(channel)}
}

// Connect dials the gateway and joins the channel anonymously.
func (c *ChatClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, ircURL, nil)
	if err != nil {
		return types.Transient(fmt.Errorf("dial twitch irc: %w", err))
	}
	c.conn = conn

	for _, line := range []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS SCHMOOPIIE",
		"NICK justinfan12345",
		"JOIN #" + c.channel,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			conn.Close()
			c.conn = nil
			return types.Transient(fmt.Errorf("irc handshake: %w", err))
		}
	}
	log.Printf("💬 Connected to chat for channel: %s", c.channel)
	return nil
}

// Close tears down the connection. Safe to call when never connected.
func (c *ChatClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Listen reads messages until ctx is cancelled or the connection drops,
// invoking onMessage for every parsed chat line. PINGs are answered inline.
// Returns a transient error on connection loss so the caller can reconnect.
func (c *ChatClient) Listen(ctx context.Context, onMessage func(types.ChatMessage)) error {
	if c.conn == nil {
		return types.Invalid(fmt.Errorf("listen before connect"))
	}

	// Reads block; unblock them when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return types.WrapTask("", types.KindCancelled, ctx.Err())
			}
			return types.Transient(fmt.Errorf("chat connection lost: %w", err))
		}
		// A frame can carry several IRC lines.
		for _, raw := range strings.Split(string(payload), "\r\n") {
			if raw == "" {
				continue
			}
			if strings.HasPrefix(raw, "PING") {
				if err := c.conn.WriteMessage(websocket.TextMessage, []byte("PONG :tmi.twitch.tv")); err != nil {
					return types.Transient(fmt.Errorf("send pong: %w", err))
				}
				continue
			}
			if msg, ok := ParseChatMessage(raw, time.Now().UTC()); ok {
				onMessage(msg)
			}
		}
	}
}

// ParseChatMessage parses one IRC line into a ChatMessage. Non-PRIVMSG lines
// return ok=false. Offset is left zero; the capture session aligns chat time
// to media time.
func ParseChatMessage(raw string, at time.Time) (types.ChatMessage, bool) {
	if !strings.Contains(raw, "PRIVMSG") {
		return types.ChatMessage{}, false
	}

	rest := raw
	var tags map[string]string
	if strings.HasPrefix(rest, "@") {
		tagPart, after, found := strings.Cut(rest[1:], " ")
		if !found {
			return types.ChatMessage{}, false
		}
		tags = parseTags(tagPart)
		rest = after
	}

	// :user!user@user.tmi.twitch.tv PRIVMSG #channel :message text
	if !strings.HasPrefix(rest, ":") {
		return types.ChatMessage{}, false
	}
	prefix, after, found := strings.Cut(rest[1:], " ")
	if !found {
		return types.ChatMessage{}, false
	}
	username, _, _ := strings.Cut(prefix, "!")

	command, after, found := strings.Cut(after, " ")
	if !found || command != "PRIVMSG" {
		return types.ChatMessage{}, false
	}
	_, text, found := strings.Cut(after, " :")
	if !found {
		return types.ChatMessage{}, false
	}

	msg := types.ChatMessage{
		Timestamp: at,
		Username:  username,
		Text:      strings.TrimRight(text, "\r\n"),
	}
	if tags != nil {
		msg.Badges = parseBadges(tags["badges"])
		msg.HasEmotes = tags["emotes"] != ""
	}
	if msg.Username == "" || msg.Text == "" {
		return types.ChatMessage{}, false
	}
	return msg, true
}

// parseTags splits IRC v3 message tags ("key=value;key=value").
func parseTags(tagPart string) map[string]string {
	tags := map[string]string{}
	for _, tag := range strings.Split(tagPart, ";") {
		key, value, _ := strings.Cut(tag, "=")
		tags[key] = value
	}
	return tags
}

// parseBadges splits the badges tag ("subscriber/12,vip/1") into name=level.
func parseBadges(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	badges := map[string]string{}
	for _, badge := range strings.Split(raw, ",") {
		name, level, found := strings.Cut(badge, "/")
		if found {
			badges[name] = level
		}
	}
	return badges
}
