package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/chat"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// heartbeatInterval paces keepalive pings on the notification socket.
const heartbeatInterval = 25 * time.Second

// Subscribe dials the notification socket, announces the conversation
// filter, and streams decoded events until the connection drops or Close is
// called. Reconnection is the sync controller's job: it sees the closed
// events channel, degrades, and subscribes again.
func (c *Client) Subscribe(ctx context.Context, conversationID string) (backend.Subscription, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	sub := &streamSub{
		conn:   conn,
		events: make(chan chat.Event, 64),
		log:    c.log,
	}

	hello := proto.Outbound{
		Type:     proto.OutboundTypeSubscribe,
		Protocol: proto.ProtocolVersion,
		Conv:     conversationID,
	}
	if err := writeFrame(ctx, conn, hello); err != nil {
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub.cancel = cancel
	go sub.readLoop(streamCtx)
	go sub.heartbeat(streamCtx)
	return sub, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := strings.Replace(c.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + c.token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, chat.ErrDisconnected
	}
	return conn, nil
}

type streamSub struct {
	conn   *websocket.Conn
	events chan chat.Event
	cancel context.CancelFunc
	log    *zerolog.Logger

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

func (s *streamSub) Events() <-chan chat.Event { return s.events }

func (s *streamSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *streamSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "client close")
	s.closeOnce.Do(func() { close(s.events) })
	return err
}

func (s *streamSub) readLoop(ctx context.Context) {
	defer s.closeOnce.Do(func() { close(s.events) })

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = chat.ErrDisconnected
			}
			s.mu.Unlock()
			s.cancel()
			return
		}

		var in proto.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		switch in.Type {
		case proto.InboundTypeEvent:
			ev, err := proto.DecodeEvent(&in)
			if err != nil {
				s.log.Warn().Err(err).Msg("dropping malformed event frame")
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		case proto.InboundTypeError:
			if in.Error != nil {
				s.log.Warn().Str("code", in.Error.Code).Str("msg", in.Error.Msg).Msg("server error frame")
			}
		case proto.InboundTypePong, proto.InboundTypeMembers:
			// Members frames belong to membership sockets; ignore here.
		}
	}
}

func (s *streamSub) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Force the read loop to fail over to a resync.
				s.conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame proto.Outbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
