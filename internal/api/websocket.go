// internal/api/websocket.go
package api

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/HoverLens/internal/messaging"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/gorilla/websocket"
)

const (
	// 弹窗上下文固定ID，页面上下文为 page:<id>
	PopupContextID = "popup"
	pageContextPre = "page:"

	pingInterval    = 54 * time.Second
	pongWait        = 60 * time.Second
	writeWait       = 10 * time.Second
	maxMessageBytes = 32 << 20 // base64 图片可达 27MB
	sendQueueSize   = 64
)

// newUpgrader 创建 WebSocket 升级器，来源由白名单校验
func newUpgrader(origins *OriginPolicy) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     origins.CheckOrigin,
	}
}

// ValidContextID 检查上下文ID格式
func ValidContextID(contextID string) bool {
	if contextID == PopupContextID {
		return true
	}
	return strings.HasPrefix(contextID, pageContextPre) && len(contextID) > len(pageContextPre)
}

// originOf 上下文ID对应的请求来源
func originOf(contextID string) models.Origin {
	if contextID == PopupContextID {
		return models.OriginPopup
	}
	return models.OriginPage
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	conn      *websocket.Conn
	contextID string
	send      chan []byte
	done      chan struct{}
	sub       *messaging.Subscription
	closed    int32 // 0=开启，1=关闭
	lastPing  int64 // unix 纳秒
	createdAt time.Time
	logger    utils.Logger
}

func newWebSocketClient(conn *websocket.Conn, contextID string, logger utils.Logger) *WebSocketClient {
	now := time.Now()
	return &WebSocketClient{
		conn:      conn,
		contextID: contextID,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		lastPing:  now.UnixNano(),
		createdAt: now,
		logger:    logger,
	}
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.sub != nil {
			client.sub.Close()
		}
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	atomic.StoreInt64(&client.lastPing, time.Now().UnixNano())
}

// LastPing 最后活跃时间
func (client *WebSocketClient) LastPing() time.Time {
	return time.Unix(0, atomic.LoadInt64(&client.lastPing))
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(client.LastPing()) > timeout
}

// SendEnvelope 非阻塞地把消息放入发送队列
func (client *WebSocketClient) SendEnvelope(env models.Envelope) {
	if client.IsClosed() {
		return
	}

	msgBytes, err := json.Marshal(env)
	if err != nil {
		client.logger.Error("序列化消息失败", map[string]interface{}{"error": err, "type": string(env.Type)})
		return
	}

	select {
	case client.send <- msgBytes:
	case <-client.done:
	default:
		client.logger.Warn("客户端消息队列已满，消息被丢弃", map[string]interface{}{
			"context_id": client.contextID,
			"type":       string(env.Type),
		})
	}
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(requestID, message string) {
	env := models.NewEnvelope(models.MsgError)
	env.RequestID = requestID
	env.ContextID = client.contextID
	env.Error = message
	client.SendEnvelope(env)
}

// forward 把代理中发往本上下文的消息转给客户端
func (client *WebSocketClient) forward() {
	for env := range client.sub.C() {
		client.SendEnvelope(env)
	}
	// 订阅被关闭意味着代理或连接已结束
	client.Close()
}

// WebSocketManager 管理所有 WebSocket 连接
type WebSocketManager struct {
	broker      *messaging.Broker
	logger      utils.Logger
	connections map[string]map[*WebSocketClient]struct{} // contextID -> clients
	mutex       sync.RWMutex
	pingTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewWebSocketManager 创建连接管理器并启动过期清理
func NewWebSocketManager(broker *messaging.Broker, logger utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	manager := &WebSocketManager{
		broker:      broker,
		logger:      logger,
		connections: make(map[string]map[*WebSocketClient]struct{}),
		pingTimeout: 2 * pongWait,
		stop:        make(chan struct{}),
	}
	go manager.run()
	return manager
}

// run 定期清理过期连接
func (manager *WebSocketManager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			manager.cleanupExpiredConnections()
		case <-manager.stop:
			return
		}
	}
}

// register 注册新客户端并订阅代理
func (manager *WebSocketManager) register(client *WebSocketClient) {
	client.sub = manager.broker.Subscribe(client.contextID)

	manager.mutex.Lock()
	if manager.connections[client.contextID] == nil {
		manager.connections[client.contextID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.contextID][client] = struct{}{}
	manager.mutex.Unlock()

	utils.WebSocketClients.WithLabelValues(string(originOf(client.contextID))).Inc()
	go client.forward()

	manager.logger.Info("WebSocket 客户端已连接", map[string]interface{}{"context_id": client.contextID})
}

// unregister 注销客户端，可重复调用
func (manager *WebSocketManager) unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	removed := false
	if clients, exists := manager.connections[client.contextID]; exists {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			removed = true
		}
		if len(clients) == 0 {
			delete(manager.connections, client.contextID)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	if removed {
		utils.WebSocketClients.WithLabelValues(string(originOf(client.contextID))).Dec()
		manager.logger.Info("WebSocket 客户端已断开", map[string]interface{}{"context_id": client.contextID})
	}
}

// cleanupExpiredConnections 清理过期和死连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.RLock()
	expired := make([]*WebSocketClient, 0)
	for _, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				expired = append(expired, client)
			}
		}
	}
	manager.mutex.RUnlock()

	for _, client := range expired {
		manager.unregister(client)
	}
}

// Shutdown 关闭所有连接
func (manager *WebSocketManager) Shutdown() {
	manager.stopOnce.Do(func() { close(manager.stop) })

	manager.mutex.RLock()
	all := make([]*WebSocketClient, 0)
	for _, clients := range manager.connections {
		for client := range clients {
			all = append(all, client)
		}
	}
	manager.mutex.RUnlock()

	for _, client := range all {
		manager.unregister(client)
	}
	manager.logger.Info("WebSocket 管理器已关闭", nil)
}

// Count 当前连接数
func (manager *WebSocketManager) Count() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	total := 0
	for _, clients := range manager.connections {
		total += len(clients)
	}
	return total
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	contexts := make(map[string]interface{})
	totalConnections := 0

	for contextID, clients := range manager.connections {
		details := make([]map[string]interface{}, 0, len(clients))
		for client := range clients {
			if client.IsClosed() {
				continue
			}
			var dropped int64
			if client.sub != nil {
				dropped = client.sub.Dropped()
			}
			details = append(details, map[string]interface{}{
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    client.LastPing().Format(time.RFC3339),
				"dropped":      dropped,
			})
		}
		contexts[contextID] = map[string]interface{}{
			"client_count": len(details),
			"clients":      details,
		}
		totalConnections += len(details)
	}

	return map[string]interface{}{
		"total_contexts":    len(contexts),
		"total_connections": totalConnections,
		"subscriptions":     manager.broker.Count(),
		"contexts":          contexts,
	}
}
