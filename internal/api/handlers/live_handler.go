package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// ScanEvent 推送给实时客户端的扫描事件
type ScanEvent struct {
	ScanID         string         `json:"scan_id"`
	FileName       string         `json:"file_name"`
	ArchiveHash    string         `json:"archive_hash"`
	Verdict        domain.Verdict `json:"verdict"`
	Confidence     float64        `json:"confidence"`
	Quality        string         `json:"quality"`
	ShortCircuited bool           `json:"short_circuited"`
	Timestamp      int64          `json:"timestamp"`
}

// liveClient 一个 WebSocket 订阅者，verdict 为空表示接收全部
type liveClient struct {
	conn    *websocket.Conn
	verdict domain.Verdict
}

// LiveHandler 扫描结果实时推送，实现 service.Notifier
type LiveHandler struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[*liveClient]struct{}
	clientMutex sync.RWMutex
	broadcast   chan ScanEvent
}

// NewLiveHandler 创建实时推送处理器
func NewLiveHandler(logger *logrus.Logger) *LiveHandler {
	return &LiveHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*liveClient]struct{}),
		broadcast: make(chan ScanEvent, 100),
	}
}

// Start 启动广播协程
func (h *LiveHandler) Start(ctx context.Context) {
	go h.runBroadcaster(ctx)
}

func (h *LiveHandler) runBroadcaster(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.broadcast:
			for _, client := range h.snapshot() {
				if client.verdict != "" && client.verdict != event.Verdict {
					continue
				}
				client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.conn.WriteJSON(event); err != nil {
					h.logger.WithError(err).Warn("Failed to write to WebSocket client")
					h.remove(client)
				}
			}
		}
	}
}

func (h *LiveHandler) snapshot() []*liveClient {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()
	clients := make([]*liveClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *LiveHandler) remove(client *liveClient) {
	h.clientMutex.Lock()
	defer h.clientMutex.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.conn.Close()
	}
}

func (h *LiveHandler) closeAll() {
	h.clientMutex.Lock()
	defer h.clientMutex.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

// HandleWebSocket 订阅扫描结果
// GET /ws/scans?verdict=malicious
func (h *LiveHandler) HandleWebSocket(c *gin.Context) {
	verdict := domain.Verdict(c.Query("verdict"))
	if verdict != "" && !verdict.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 verdict 过滤条件"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &liveClient{conn: conn, verdict: verdict}
	h.clientMutex.Lock()
	h.clients[client] = struct{}{}
	h.clientMutex.Unlock()

	h.logger.WithField("verdict_filter", verdict).Info("WebSocket client connected")

	// 读循环只用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("WebSocket closed unexpectedly")
			}
			break
		}
	}

	h.remove(client)
	h.logger.Info("WebSocket client disconnected")
}

// Clients 当前订阅者数量
func (h *LiveHandler) Clients() int {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()
	return len(h.clients)
}

// PublishScan 推送完成的扫描，通道满时丢弃
func (h *LiveHandler) PublishScan(result *domain.ScanResult) {
	event := ScanEvent{
		ScanID:         result.ID,
		FileName:       result.FileName,
		ArchiveHash:    result.ArchiveHash,
		Verdict:        result.Verdict,
		Confidence:     result.Confidence,
		Quality:        result.Quality,
		ShortCircuited: result.ShortCircuited,
		Timestamp:      time.Now().Unix(),
	}

	select {
	case h.broadcast <- event:
	default:
		h.logger.WithField("scan_id", result.ID).Warn("Broadcast channel is full, dropping scan event")
	}
}
