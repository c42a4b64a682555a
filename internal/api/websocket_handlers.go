// internal/api/websocket_handlers.go
package api

import (
	"context"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/messaging"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/services"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketHandler 处理 WebSocket 相关的 HTTP 请求
type WebSocketHandler struct {
	manager     *WebSocketManager
	coordinator *services.CoordinatorService
	upgrader    websocket.Upgrader
	logger      utils.Logger
	response    *ResponseHelper
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(manager *WebSocketManager, coordinator *services.CoordinatorService, origins *OriginPolicy, logger utils.Logger) *WebSocketHandler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebSocketHandler{
		manager:     manager,
		coordinator: coordinator,
		upgrader:    newUpgrader(origins),
		logger:      logger,
		response:    NewResponseHelper(),
	}
}

// Connect 处理 /ws/:context 连接
func (wh *WebSocketHandler) Connect(c *gin.Context) {
	contextID := c.Param("context")
	if !ValidContextID(contextID) {
		wh.response.BadRequest(c, "无效的上下文ID", "应为 popup 或 page:<id>")
		return
	}

	conn, err := wh.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wh.logger.Warn("WebSocket 升级失败", map[string]interface{}{
			"error":      err,
			"context_id": contextID,
			"origin":     c.GetHeader("Origin"),
		})
		return
	}

	client := newWebSocketClient(conn, contextID, wh.logger)
	wh.manager.register(client)
	defer wh.manager.unregister(client)

	go wh.handleWebSocketWrites(client)

	welcome := models.NewEnvelope(models.MsgConnected)
	welcome.ContextID = contextID
	client.SendEnvelope(welcome)

	wh.handleWebSocketReads(client)
}

// handleWebSocketReads 读取循环，连接断开时返回
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient) {
	client.conn.SetReadLimit(maxMessageBytes)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !client.IsClosed() {
				wh.logger.Warn("WebSocket 读取错误", map[string]interface{}{"error": err, "context_id": client.contextID})
			}
			return
		}

		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := messaging.ValidateEnvelope(messageBytes)
		if err != nil {
			client.SendError(env.RequestID, apperrors.UserMessage(err))
			continue
		}

		wh.handleMessage(client, env)
	}
}

// handleWebSocketWrites 写入循环，同时负责心跳
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				wh.logger.Warn("WebSocket 写入失败", map[string]interface{}{"error": err, "context_id": client.contextID})
				client.Close()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}

		case <-client.done:
			client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// handleMessage 处理收到的 WebSocket 消息
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, env models.Envelope) {
	switch env.Type {
	case models.MsgAnalyzeImage:
		wh.handleAnalyze(client, env)
	case models.MsgPing:
		pong := models.NewEnvelope(models.MsgPong)
		pong.ContextID = client.contextID
		client.SendEnvelope(pong)
	default:
		wh.logger.Debug("未知的消息类型", map[string]interface{}{"type": string(env.Type)})
	}
}

// handleAnalyze 受理分析请求；结果通过代理异步送达
func (wh *WebSocketHandler) handleAnalyze(client *WebSocketClient, env models.Envelope) {
	req := env.ToRequest()
	req.ContextID = client.contextID
	req.Origin = originOf(client.contextID)

	if _, err := wh.coordinator.Submit(context.Background(), req); err != nil {
		wh.logger.Warn("分析请求被拒绝", map[string]interface{}{
			"error":      err,
			"context_id": client.contextID,
			"request_id": req.RequestID,
		})
		client.SendError(req.RequestID, apperrors.UserMessage(err))
	}
}
