package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Channel returns a handle on the named ephemeral membership channel. The
// socket is dialed lazily on the first Track or Watch; dropping the
// connection retracts membership server-side, which is exactly the
// session-scoped semantics typing indicators need.
func (c *Client) Channel(name string) backend.MembershipChannel {
	return &wsMembership{client: c, name: name}
}

type wsMembership struct {
	client *Client
	name   string

	mu     sync.Mutex
	conn   *websocket.Conn
	userID string
}

func (m *wsMembership) Track(ctx context.Context, userID string) error {
	conn, err := m.ensureConn(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.userID = userID
	m.mu.Unlock()
	return writeFrame(ctx, conn, proto.Outbound{
		Type:    proto.OutboundTypeTrack,
		Channel: m.name,
		User:    userID,
	})
}

func (m *wsMembership) Untrack(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.userID = ""
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeFrame(ctx, conn, proto.Outbound{
		Type:    proto.OutboundTypeUntrack,
		Channel: m.name,
	})
}

func (m *wsMembership) Watch(ctx context.Context) (<-chan backend.MembershipEvent, func(), error) {
	conn, err := m.ensureConn(ctx)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan backend.MembershipEvent, 16)
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	go func() {
		defer close(events)
		for {
			_, data, err := conn.Read(watchCtx)
			if err != nil {
				return
			}
			var in proto.Inbound
			if err := json.Unmarshal(data, &in); err != nil || in.Type != proto.InboundTypeMembers {
				continue
			}
			var w proto.WireMembers
			if err := json.Unmarshal(in.Data, &w); err != nil {
				continue
			}
			for _, ev := range decodeMembers(w) {
				select {
				case events <- ev:
				case <-watchCtx.Done():
					return
				}
			}
		}
	}()

	stop := func() {
		cancel()
		m.mu.Lock()
		if m.conn != nil {
			m.conn.Close(websocket.StatusNormalClosure, "watch done")
			m.conn = nil
		}
		m.mu.Unlock()
	}
	return events, stop, nil
}

func decodeMembers(w proto.WireMembers) []backend.MembershipEvent {
	var out []backend.MembershipEvent
	if w.Members != nil {
		out = append(out, backend.MembershipEvent{Kind: backend.MemberSync, Members: w.Members})
	}
	if w.Joined != "" {
		out = append(out, backend.MembershipEvent{Kind: backend.MemberJoin, UserID: w.Joined})
	}
	if w.Left != "" {
		out = append(out, backend.MembershipEvent{Kind: backend.MemberLeave, UserID: w.Left})
	}
	return out
}

func (m *wsMembership) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := m.client.dial(ctx)
	if err != nil {
		return nil, err
	}
	m.conn = conn
	return conn, nil
}
