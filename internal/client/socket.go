// internal/client/socket.go
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	handshakeWait = 10 * time.Second
)

// ErrSocketClosed 连接已关闭
var ErrSocketClosed = errors.New("WebSocket 连接已关闭")

// Handler 处理协调器推送的消息，在读取 goroutine 中依次调用
type Handler func(env models.Envelope)

// Socket 一个上下文的 WebSocket 连接，实现消息发送并分发收到的消息
type Socket struct {
	conn      *websocket.Conn
	contextID string
	handler   Handler
	logger    utils.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// SocketURL 把 http(s) 地址转换为 /ws/<context> 的 ws(s) 地址
func SocketURL(baseURL, contextID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("无效的协调器地址: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("不支持的协议: %q", u.Scheme)
	}
	u.Path = u.Path + "/ws/" + contextID
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial 建立连接并等待 connected 消息，之后开始分发
func Dial(ctx context.Context, baseURL, contextID, token string, handler Handler, logger utils.Logger) (*Socket, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	target, err := SocketURL(baseURL, contextID, token)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket 握手失败 (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("无法连接协调器: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	var welcome models.Envelope
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("等待连接确认失败: %w", err)
	}
	if welcome.Type != models.MsgConnected {
		conn.Close()
		return nil, fmt.Errorf("意外的首条消息: %s", welcome.Type)
	}
	conn.SetReadDeadline(time.Time{})

	s := &Socket{
		conn:      conn,
		contextID: contextID,
		handler:   handler,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go s.readLoop()

	logger.Debug("WebSocket 已连接", map[string]interface{}{"context_id": contextID})
	return s, nil
}

// ContextID 连接所属上下文
func (s *Socket) ContextID() string {
	return s.contextID
}

// Done 连接结束时关闭
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Err 连接结束的原因；正常关闭时为 nil
func (s *Socket) Err() error {
	<-s.done
	return s.err
}

// Send 发送一条消息
func (s *Socket) Send(ctx context.Context, env models.Envelope) error {
	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}
	return nil
}

// Ping 发送应用层心跳，服务端回复 pong 消息
func (s *Socket) Ping(ctx context.Context) error {
	env := models.NewEnvelope(models.MsgPing)
	env.ContextID = s.contextID
	return s.Send(ctx, env)
}

func (s *Socket) readLoop() {
	var loopErr error
	defer func() { s.finish(loopErr) }()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-s.done:
				default:
					loopErr = err
				}
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("无法解析协调器消息", map[string]interface{}{"error": err})
			continue
		}
		if s.handler != nil {
			s.handler(env)
		}
	}
}

func (s *Socket) finish(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		s.conn.Close()
	})
}

// Close 发送关闭帧并断开
func (s *Socket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	s.finish(nil)
	return nil
}
