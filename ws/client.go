package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"fixwork_backend/internal/channels"
	"fixwork_backend/internal/logger"
	chatservice "fixwork_backend/internal/services/chat"
	"fixwork_backend/internal/transport"
)

type IncomingWSMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// userChannelEvents is everything pushed on the per-user notification
// channel that a connected client should receive.
var userChannelEvents = []string{
	channels.EventNotificationSent,
	channels.EventUnreadCountUpdated,
	channels.EventMessageNotification,
	channels.EventConversationCreated,
}

// conversationEvents is what a client receives after joining a
// conversation channel.
var conversationEvents = []string{
	channels.EventMessageSent,
	channels.EventMessagesRead,
	channels.EventTypingStart,
	channels.EventTypingStop,
	channels.EventPresenceEnter,
	channels.EventPresenceLeave,
}

type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan any

	// Ctx outlives the upgrade request: net/http cancels the request
	// context once the handler returns, so subscriptions and publishes
	// run on a client-owned context cancelled in teardown.
	Ctx    context.Context
	cancel context.CancelFunc

	Manager     *WebSocketManager
	ChatService chatservice.ChatService
	Transport   *transport.Adapter

	mu       sync.Mutex
	closed   bool
	unsubs   []func()
	joined   map[string]bool // conversation channel names
	shutdown sync.Once
}

func newClient(userID string, conn *websocket.Conn, manager *WebSocketManager, chatService chatservice.ChatService, adapter *transport.Adapter) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:          userID,
		Conn:        conn,
		Send:        make(chan any, 256),
		Ctx:         ctx,
		cancel:      cancel,
		Manager:     manager,
		ChatService: chatService,
		Transport:   adapter,
	}
}

// attach subscribes the client to its own notification channel. Called
// once at connect time.
func (c *Client) attach() error {
	userChannel := c.Transport.Channel(channels.UserNotifications(c.ID))
	for _, event := range userChannelEvents {
		unsub, err := userChannel.Subscribe(c.Ctx, event, c.forward)
		if err != nil {
			return err
		}
		c.addUnsub(unsub)
	}
	return nil
}

func (c *Client) forward(env transport.Envelope) {
	c.deliver(env)
}

// deliver hands a message to the write pump. Dispatch can still be
// delivering a snapshot taken before an unsubscribe, so the send is
// gated on the closed flag under the same lock teardown closes under.
func (c *Client) deliver(message any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- message:
	default:
		logger.Warn("ws client dropped, send buffer full", "user_id", c.ID)
		go func() { c.Manager.unregister <- c }()
	}
}

func (c *Client) addUnsub(unsub func()) {
	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()
}

func (c *Client) teardown() {
	c.shutdown.Do(func() {
		c.mu.Lock()
		c.closed = true
		unsubs := c.unsubs
		c.unsubs = nil
		joined := c.joined
		c.joined = nil
		close(c.Send)
		c.mu.Unlock()

		for _, unsub := range unsubs {
			unsub()
		}
		for name := range joined {
			if err := c.Transport.Channel(name).Leave(context.Background(), c.ID); err != nil {
				logger.WithError(err).Warn("presence leave failed", "channel", name)
			}
		}
		if c.cancel != nil {
			c.cancel()
		}
		c.Conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Manager.unregister <- c
	}()

	for {
		_, msgBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("ws read error", "user_id", c.ID)
			}
			return
		}

		var msg IncomingWSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			logger.WithError(err).Warn("ws message parse failed", "user_id", c.ID)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	for msg := range c.Send {
		if err := c.Conn.WriteJSON(msg); err != nil {
			logger.WithError(err).Warn("ws write error", "user_id", c.ID)
			return
		}
	}
}

func (c *Client) handleMessage(msg IncomingWSMessage) {
	switch msg.Action {

	case "send_message":
		var payload struct {
			ConversationID string `json:"conversation_id"`
			Content        string `json:"content"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		if _, err := c.ChatService.SendMessage(c.Ctx, payload.ConversationID, c.ID, payload.Content, ""); err != nil {
			c.forwardError("send_message", err)
		}

	case "mark_as_read":
		var payload struct {
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		if err := c.ChatService.MarkAsRead(c.Ctx, payload.ConversationID, c.ID); err != nil {
			c.forwardError("mark_as_read", err)
		}

	case "join_conversation":
		var payload struct {
			PeerID string `json:"peer_id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.PeerID == "" {
			return
		}
		c.joinConversation(channels.Conversation(c.ID, payload.PeerID))

	case "typing_start", "typing_stop":
		var payload struct {
			PeerID string `json:"peer_id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.PeerID == "" {
			return
		}
		event := channels.EventTypingStart
		if msg.Action == "typing_stop" {
			event = channels.EventTypingStop
		}
		name := channels.Conversation(c.ID, payload.PeerID)
		logger.BroadcastLog(name, event,
			c.Transport.Channel(name).Publish(c.Ctx, event, map[string]string{"userId": c.ID}))

	default:
		logger.Warn("ws unhandled action", "action", msg.Action, "user_id", c.ID)
	}
}

// joinConversation subscribes the client to the channel's live events
// and enters it for presence. Idempotent per channel.
func (c *Client) joinConversation(name string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.joined == nil {
		c.joined = make(map[string]bool)
	}
	if c.joined[name] {
		c.mu.Unlock()
		return
	}
	c.joined[name] = true
	c.mu.Unlock()

	channel := c.Transport.Channel(name)
	for _, event := range conversationEvents {
		unsub, err := channel.Subscribe(c.Ctx, event, c.forward)
		if err != nil {
			logger.WithError(err).Warn("ws conversation subscribe failed", "channel", name)
			continue
		}
		c.addUnsub(unsub)
	}
	if err := channel.Enter(c.Ctx, c.ID, map[string]string{"userId": c.ID}); err != nil {
		logger.WithError(err).Warn("presence enter failed", "channel", name)
	}
}

func (c *Client) forwardError(action string, err error) {
	c.forward(transport.Envelope{
		Event: "error",
		Data:  mustJSON(map[string]string{"action": action, "message": err.Error()}),
	})
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
