package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"mergemeet/cmd/internal/auth"
	"mergemeet/cmd/internal/clock"
	"mergemeet/cmd/internal/httpapi"
	"mergemeet/cmd/internal/realtime"
	v1 "mergemeet/shared/contracts/realtime/v1"
)

// EventMessageReceived is published on the bus for every message appended
// from another user. Notification consumers subscribe to this event
// instead of importing this package; the payload is the raw new_message
// frame.
const EventMessageReceived = "chat.message_received"

// typingDecay is how long a typing indicator survives without renewal.
const typingDecay = 3 * time.Second

// thread is the in-memory state of one match conversation.
type thread struct {
	matchID    string
	messages   []v1.Message
	hasMore    bool
	nextCursor string

	typingUser  string
	typingTimer *clock.Timer
}

func (t *thread) contains(messageID string) bool {
	for i := range t.messages {
		if t.messages[i].ID == messageID {
			return true
		}
	}
	return false
}

// Consumer is the chat synchronization consumer. It subscribes to the
// dispatch bus on Start and applies inbound frames to its threads; REST
// loads and user actions come in through the exported methods.
type Consumer struct {
	log   *slog.Logger
	api   *httpapi.Client
	bus   *realtime.Bus
	clk   clock.Clock
	store *auth.Store

	mu            sync.Mutex
	threads       map[string]*thread
	conversations []httpapi.Conversation
	current       string
	disposers     []func()
}

// NewConsumer constructs a Consumer. Call Start to begin consuming frames.
func NewConsumer(log *slog.Logger, api *httpapi.Client, bus *realtime.Bus, clk clock.Clock, store *auth.Store) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Consumer{
		log:     log,
		api:     api,
		bus:     bus,
		clk:     clk,
		store:   store,
		threads: make(map[string]*thread),
	}
}

// Start subscribes the consumer to the bus. Idempotent only via
// Stop/Start pairs; registrations survive reconnects by design.
func (c *Consumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.disposers) > 0 {
		return
	}
	c.disposers = []func(){
		c.bus.OnMessage(v1.TypeNewMessage, c.handleNewMessage),
		c.bus.OnMessage(v1.TypeTyping, c.handleTyping),
		c.bus.OnMessage(v1.TypeReadReceipt, c.handleReadReceipt),
		c.bus.OnMessage(v1.TypeMessageDeleted, c.handleMessageDeleted),
	}
}

// Stop unsubscribes from the bus and stops typing timers.
func (c *Consumer) Stop() {
	c.mu.Lock()
	disposers := c.disposers
	c.disposers = nil
	for _, t := range c.threads {
		if t.typingTimer != nil {
			t.typingTimer.Stop()
			t.typingTimer = nil
		}
		t.typingUser = ""
	}
	c.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
}

func (c *Consumer) localUserID() string {
	cred, ok := c.store.Get()
	if !ok {
		return ""
	}
	return cred.Identity.UserID
}

func (c *Consumer) threadLocked(matchID string) *thread {
	t, ok := c.threads[matchID]
	if !ok {
		t = &thread{matchID: matchID}
		c.threads[matchID] = t
	}
	return t
}

// ---- inbound frame handlers ----

func (c *Consumer) handleNewMessage(data []byte) {
	var frame v1.NewMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Debug("chat.new_message.bad", "err", err)
		return
	}
	msg := frame.Message
	if msg.ID == "" || msg.MatchID == "" {
		return
	}

	local := c.localUserID()

	c.mu.Lock()
	t := c.threadLocked(msg.MatchID)
	if t.contains(msg.ID) {
		// At-least-once delivery duplicate.
		c.mu.Unlock()
		return
	}
	t.messages = append(t.messages, msg)

	fromPeer := msg.SenderID != local && msg.SenderID != ""
	isCurrent := c.current == msg.MatchID
	c.touchConversationLocked(msg, fromPeer && !isCurrent)
	c.mu.Unlock()

	if fromPeer {
		if isCurrent {
			// Open thread: acknowledge immediately instead of counting.
			if !c.bus.Send(v1.NewReadReceipt(msg.ID)) {
				c.log.Debug("chat.receipt.drop", "message_id", msg.ID)
			}
		}
		c.bus.Publish(EventMessageReceived, data)
	}
}

// touchConversationLocked updates the last-message snapshot, bumps the
// unread counter when asked, and moves the entry to the head of the list.
func (c *Consumer) touchConversationLocked(msg v1.Message, countUnread bool) {
	idx := -1
	for i := range c.conversations {
		if c.conversations[i].MatchID == msg.MatchID {
			idx = i
			break
		}
	}

	var entry httpapi.Conversation
	if idx >= 0 {
		entry = c.conversations[idx]
		c.conversations = append(c.conversations[:idx], c.conversations[idx+1:]...)
	} else {
		entry = httpapi.Conversation{MatchID: msg.MatchID, OtherUserID: msg.SenderID}
	}

	snapshot := msg
	entry.LastMessage = &snapshot
	if countUnread {
		entry.UnreadCount++
	}
	c.conversations = append([]httpapi.Conversation{entry}, c.conversations...)
}

func (c *Consumer) handleTyping(data []byte) {
	var frame v1.Typing
	if err := json.Unmarshal(data, &frame); err != nil || frame.MatchID == "" || frame.UserID == "" {
		return
	}
	if frame.UserID == c.localUserID() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.threadLocked(frame.MatchID)

	if !frame.IsTyping {
		if t.typingUser == frame.UserID {
			c.clearTypingLocked(t)
		}
		return
	}

	if t.typingTimer != nil {
		t.typingTimer.Stop()
	}
	t.typingUser = frame.UserID

	user := frame.UserID
	t.typingTimer = c.clk.AfterFunc(typingDecay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// A newer indicator from another user owns the slot now.
		if t.typingUser == user {
			c.clearTypingLocked(t)
		}
	})
}

func (c *Consumer) clearTypingLocked(t *thread) {
	if t.typingTimer != nil {
		t.typingTimer.Stop()
		t.typingTimer = nil
	}
	t.typingUser = ""
}

func (c *Consumer) handleReadReceipt(data []byte) {
	var frame v1.ReadReceipt
	if err := json.Unmarshal(data, &frame); err != nil || frame.MessageID == "" {
		return
	}
	readAt := frame.ReadAt
	if readAt.IsZero() {
		readAt = c.clk.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Message ids are globally unique; first match wins.
	for _, t := range c.threads {
		for i := range t.messages {
			if t.messages[i].ID == frame.MessageID {
				at := readAt
				t.messages[i].IsRead = &at
				return
			}
		}
	}
	// Receipt for a message we never loaded; absorbed.
}

func (c *Consumer) handleMessageDeleted(data []byte) {
	var frame v1.MessageDeleted
	if err := json.Unmarshal(data, &frame); err != nil || frame.MessageID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[frame.MatchID]
	if !ok {
		return
	}
	c.removeMessageLocked(t, frame.MessageID)
}

func (c *Consumer) removeMessageLocked(t *thread, messageID string) {
	for i := range t.messages {
		if t.messages[i].ID == messageID {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

// ---- REST loads ----

// LoadConversations replaces the conversation list from the server.
func (c *Consumer) LoadConversations(ctx context.Context) error {
	conversations, err := c.api.Conversations(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conversations = conversations
	c.mu.Unlock()
	return nil
}

// LoadHistory fetches the first page for a match. The REST snapshot is
// authoritative for the initial state and overwrites the thread.
func (c *Consumer) LoadHistory(ctx context.Context, matchID string) error {
	page, err := c.api.ChatHistory(ctx, matchID, "", 0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	t := c.threadLocked(matchID)
	t.messages = page.Messages
	t.hasMore = page.HasMore
	t.nextCursor = page.NextCursor
	c.mu.Unlock()
	return nil
}

// LoadOlder fetches the page before the current cursor and prepends it.
// The server's cursor contract guarantees the ranges are disjoint, so no
// deduplication against the existing tail is performed. No-op when the
// thread has no more history.
func (c *Consumer) LoadOlder(ctx context.Context, matchID string) error {
	c.mu.Lock()
	t := c.threadLocked(matchID)
	if !t.hasMore || t.nextCursor == "" {
		c.mu.Unlock()
		return nil
	}
	cursor := t.nextCursor
	c.mu.Unlock()

	page, err := c.api.ChatHistory(ctx, matchID, cursor, 0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	t = c.threadLocked(matchID)
	t.messages = append(page.Messages, t.messages...)
	t.hasMore = page.HasMore
	t.nextCursor = page.NextCursor
	c.mu.Unlock()
	return nil
}

// ---- user actions ----

// JoinMatch opens a conversation: marks it current, scopes server fanout,
// loads the first history page, and reconciles unread state. The REST
// mark-read call is tolerated to fail; the local counter is zeroed and
// realtime receipts are emitted regardless.
func (c *Consumer) JoinMatch(ctx context.Context, matchID string) error {
	c.mu.Lock()
	c.current = matchID
	c.mu.Unlock()

	if !c.bus.Send(v1.NewJoinMatch(matchID)) {
		c.log.Debug("chat.join.drop", "match_id", matchID)
	}

	if err := c.LoadHistory(ctx, matchID); err != nil {
		return err
	}

	if err := c.api.MarkConversationRead(ctx, matchID); err != nil {
		c.log.Warn("chat.mark_read.fail", "match_id", matchID, "err", err)
	}

	local := c.localUserID()

	c.mu.Lock()
	for i := range c.conversations {
		if c.conversations[i].MatchID == matchID {
			c.conversations[i].UnreadCount = 0
			break
		}
	}
	t := c.threadLocked(matchID)
	var unread []string
	for i := range t.messages {
		m := &t.messages[i]
		if m.IsRead == nil && m.SenderID != local && m.SenderID != "" {
			unread = append(unread, m.ID)
		}
	}
	c.mu.Unlock()

	for _, id := range unread {
		if !c.bus.Send(v1.NewReadReceipt(id)) {
			c.log.Debug("chat.receipt.drop", "message_id", id)
		}
	}
	return nil
}

// LeaveMatch closes the current conversation.
func (c *Consumer) LeaveMatch(matchID string) {
	c.mu.Lock()
	if c.current == matchID {
		c.current = ""
	}
	c.mu.Unlock()

	if !c.bus.Send(v1.NewLeaveMatch(matchID)) {
		c.log.Debug("chat.leave.drop", "match_id", matchID)
	}
}

// SendMessage submits a new message over the realtime channel. false
// means the transport was closed and nothing was sent; the appended copy
// arrives back as a new_message broadcast.
func (c *Consumer) SendMessage(matchID, content, messageType string) bool {
	return c.bus.Send(v1.NewChatMessage(matchID, content, messageType))
}

// SendTyping submits a typing indicator for the match.
func (c *Consumer) SendTyping(matchID string, isTyping bool) bool {
	return c.bus.Send(v1.NewTyping(matchID, isTyping))
}

// DeleteMessage removes a message server-side, then locally. Local
// removal also happens when the broadcast arrives; both are idempotent.
func (c *Consumer) DeleteMessage(ctx context.Context, matchID, messageID string) error {
	if err := c.api.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	c.mu.Lock()
	if t, ok := c.threads[matchID]; ok {
		c.removeMessageLocked(t, messageID)
	}
	c.mu.Unlock()
	return nil
}

// ---- snapshots ----

// Messages returns a copy of the thread's messages in order.
func (c *Consumer) Messages(matchID string) []v1.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[matchID]
	if !ok {
		return nil
	}
	out := make([]v1.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// TypingUser reports who is typing in the match, if anyone.
func (c *Consumer) TypingUser(matchID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[matchID]
	if !ok || t.typingUser == "" {
		return "", false
	}
	return t.typingUser, true
}

// Conversations returns a copy of the conversation list, most recently
// active first.
func (c *Consumer) Conversations() []httpapi.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]httpapi.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// UnreadCount reports the unread counter for one match.
func (c *Consumer) UnreadCount(matchID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.conversations {
		if c.conversations[i].MatchID == matchID {
			return c.conversations[i].UnreadCount
		}
	}
	return 0
}

// TotalUnread sums unread counters across conversations.
func (c *Consumer) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for i := range c.conversations {
		total += c.conversations[i].UnreadCount
	}
	return total
}

// CurrentMatch reports the open conversation, if any.
func (c *Consumer) CurrentMatch() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != ""
}
