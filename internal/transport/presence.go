package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"fixwork_backend/internal/channels"
)

// Presence is tracked in a Redis hash per channel: member id mapped to
// an arbitrary JSON blob (typing state, device, display name). Every
// mutation also publishes a presence event on the channel so live
// subscribers see membership changes without polling.

func presenceKey(channel string) string {
	return "presence:" + channel
}

// Enter records clientID as present on the channel.
func (c *Channel) Enter(ctx context.Context, clientID string, data any) error {
	return c.presenceSet(ctx, clientID, data, channels.EventPresenceEnter)
}

// UpdatePresence replaces the presence data for clientID.
func (c *Channel) UpdatePresence(ctx context.Context, clientID string, data any) error {
	return c.presenceSet(ctx, clientID, data, channels.EventPresenceUpdate)
}

func (c *Channel) presenceSet(ctx context.Context, clientID string, data any, event string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal presence data: %w", err)
	}
	if err := c.adapter.rdb.HSet(ctx, presenceKey(c.name), clientID, raw).Err(); err != nil {
		return fmt.Errorf("presence set on %s: %w", c.name, err)
	}
	return c.Publish(ctx, event, map[string]any{"clientId": clientID, "data": json.RawMessage(raw)})
}

// Leave removes clientID from the channel's presence set.
func (c *Channel) Leave(ctx context.Context, clientID string) error {
	if err := c.adapter.rdb.HDel(ctx, presenceKey(c.name), clientID).Err(); err != nil {
		return fmt.Errorf("presence leave on %s: %w", c.name, err)
	}
	return c.Publish(ctx, channels.EventPresenceLeave, map[string]any{"clientId": clientID})
}

// PresenceList returns every member currently present on the channel.
func (c *Channel) PresenceList(ctx context.Context) (map[string]json.RawMessage, error) {
	entries, err := c.adapter.rdb.HGetAll(ctx, presenceKey(c.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list on %s: %w", c.name, err)
	}
	members := make(map[string]json.RawMessage, len(entries))
	for id, raw := range entries {
		members[id] = json.RawMessage(raw)
	}
	return members, nil
}
