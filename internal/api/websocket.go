// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionMessage 推送给客户端的消息
type SessionMessage struct {
	Type      string                    `json:"type"`
	SessionID string                    `json:"session_id"`
	Session   *models.GenerationSession `json:"session,omitempty"`
	Timestamp string                    `json:"timestamp"`
}

// wsClient 一个会话订阅连接
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	closed    int32
	createdAt time.Time
}

// Close 安全关闭连接
func (client *wsClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.conn.Close()
	}
}

// IsClosed 检查连接是否已关闭
func (client *wsClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// SessionHub 按会话管理 WebSocket 连接，把注册表的快照推送给客户端
type SessionHub struct {
	registry *services.SessionRegistry
	response *ResponseHelper

	mutex   sync.RWMutex
	clients map[string]map[*wsClient]struct{}
}

// NewSessionHub 创建会话推送中心
func NewSessionHub(registry *services.SessionRegistry) *SessionHub {
	return &SessionHub{
		registry: registry,
		response: NewResponseHelper(),
		clients:  make(map[string]map[*wsClient]struct{}),
	}
}

// ServeSession GET /ws/sessions/:id
func (h *SessionHub) ServeSession(c *gin.Context) {
	sessionID := c.Param("id")
	if !h.registry.Exists(sessionID) {
		h.response.NotFound(c, ErrorSessionNotFound, "Session not found")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ 会话 WebSocket 升级失败: %v", err)
		return
	}

	client := &wsClient{conn: conn, sessionID: sessionID, createdAt: time.Now()}
	h.register(client)
	defer h.unregister(client)

	updates, cancel := h.registry.Subscribe(sessionID)
	defer cancel()

	// 首条消息为当前快照
	if session, ok := h.registry.Get(sessionID); ok {
		if err := h.write(client, "session_update", session); err != nil {
			return
		}
	} else {
		h.write(client, "session_deleted", nil)
		return
	}

	done := make(chan struct{})
	go h.readLoop(client, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case session, ok := <-updates:
			if !ok {
				h.write(client, "session_deleted", nil)
				client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session deleted"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := h.write(client, "session_update", session); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readLoop 只处理控制帧与 ping 消息；连接断开时关闭 done
func (h *SessionHub) readLoop(client *wsClient, done chan struct{}) {
	defer close(done)

	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("❌ WebSocket 读取错误: %v", err)
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var message map[string]interface{}
		if json.Unmarshal(data, &message) == nil && message["type"] == "ping" {
			h.write(client, "pong", nil)
		}
	}
}

func (h *SessionHub) write(client *wsClient, msgType string, session *models.GenerationSession) error {
	if client.IsClosed() {
		return websocket.ErrCloseSent
	}
	client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return client.conn.WriteJSON(SessionMessage{
		Type:      msgType,
		SessionID: client.sessionID,
		Session:   session,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (h *SessionHub) register(client *wsClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.clients[client.sessionID] == nil {
		h.clients[client.sessionID] = make(map[*wsClient]struct{})
	}
	h.clients[client.sessionID][client] = struct{}{}
	log.Printf("✅ WebSocket 客户端已连接到会话 %s", client.sessionID)
}

func (h *SessionHub) unregister(client *wsClient) {
	h.mutex.Lock()
	if connections, exists := h.clients[client.sessionID]; exists {
		delete(connections, client)
		if len(connections) == 0 {
			delete(h.clients, client.sessionID)
		}
	}
	h.mutex.Unlock()

	client.Close()
	log.Printf("🔌 WebSocket 客户端已断开 (会话: %s)", client.sessionID)
}

// Shutdown 关闭所有连接
func (h *SessionHub) Shutdown() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	log.Println("🛑 正在关闭 WebSocket 连接...")
	for _, connections := range h.clients {
		for client := range connections {
			client.Close()
		}
	}
	h.clients = make(map[string]map[*wsClient]struct{})
}

// GetStatus 连接统计
func (h *SessionHub) GetStatus() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sessions := make(map[string]int, len(h.clients))
	total := 0
	for sessionID, connections := range h.clients {
		sessions[sessionID] = len(connections)
		total += len(connections)
	}
	return map[string]interface{}{
		"total_sessions":    len(h.clients),
		"total_connections": total,
		"sessions":          sessions,
	}
}
