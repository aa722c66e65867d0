package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"course-rag-go/internal/model"
	"course-rag-go/internal/service"
	"course-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 处理问答请求，包括 REST 与 WebSocket 两种入口。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Ask 处理一次完整的问答请求。
func (h *ChatHandler) Ask(c *gin.Context) {
	var req model.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载")
		return
	}
	log.Infof("[ChatHandler] 收到提问, session_id: %s, course_id: %s", req.SessionID, req.CourseID)

	resp, err := h.chatService.Ask(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}

// wsConn 串行化同一连接上的写操作，并记录进行中问答的取消函数。
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	cancelAsk context.CancelFunc
}

func (w *wsConn) WriteMessage(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsConn) writeJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error("[ChatHandler] 序列化 WebSocket 帧失败", err)
		return
	}
	if err := w.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("[ChatHandler] 写入 WebSocket 帧失败: %v", err)
	}
}

func (w *wsConn) setCancel(cancel context.CancelFunc) {
	w.mu.Lock()
	w.cancelAsk = cancel
	w.mu.Unlock()
}

// stop 取消进行中的问答，返回是否确实有问答被取消。
func (w *wsConn) stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelAsk == nil {
		return false
	}
	w.cancelAsk()
	w.cancelAsk = nil
	return true
}

// chunkWriter 把生成的分块包装为 {"chunk": "..."} 帧。
type chunkWriter struct {
	ws *wsConn
}

func (cw chunkWriter) WriteMessage(messageType int, data []byte) error {
	b, err := json.Marshal(map[string]string{"chunk": string(data)})
	if err != nil {
		return err
	}
	return cw.ws.WriteMessage(messageType, b)
}

type wsFrame struct {
	Type string `json:"type"`
	model.AskRequest
}

type answerFrame struct {
	Type string `json:"type"`
	*model.AskResponse
}

func completionFrame(status string) map[string]interface{} {
	return map[string]interface{}{
		"type":      "completion",
		"status":    status,
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
}

// Handle 处理一个 WebSocket 连接。每个提问帧依次得到若干分块帧、一个回答帧和一个完成帧；
// {"type":"stop"} 取消进行中的问答，被取消的问答不写入会话。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] WebSocket 连接已建立, remote: %s", c.ClientIP())

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	ws := &wsConn{conn: conn}

	// 读协程：停止指令立即处理，提问帧交给主循环串行执行
	asks := make(chan model.AskRequest, 8)
	go func() {
		defer close(asks)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Infof("[ChatHandler] WebSocket 连接关闭: %v", err)
				ws.stop()
				cancel()
				return
			}
			var frame wsFrame
			if err := json.Unmarshal(message, &frame); err != nil {
				ws.writeJSON(map[string]string{"error": "无效的消息格式"})
				continue
			}
			if frame.Type == "stop" {
				if ws.stop() {
					ws.writeJSON(map[string]interface{}{
						"type":      "stop",
						"message":   "响应已停止",
						"timestamp": time.Now().UnixMilli(),
						"date":      time.Now().Format("2006-01-02T15:04:05"),
					})
				}
				continue
			}
			select {
			case asks <- frame.AskRequest:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range asks {
		askCtx, askCancel := context.WithCancel(ctx)
		ws.setCancel(askCancel)
		resp, err := h.chatService.AskStream(askCtx, req, chunkWriter{ws: ws})
		ws.stop()
		askCancel()

		switch {
		case err == nil:
			ws.writeJSON(answerFrame{Type: "answer", AskResponse: resp})
			ws.writeJSON(completionFrame("finished"))
		case errors.Is(err, context.Canceled):
			ws.writeJSON(completionFrame("stopped"))
		default:
			log.Warnf("[ChatHandler] WebSocket 问答失败: %v", err)
			ws.writeJSON(map[string]interface{}{"error": err.Error(), "code": statusFor(err)})
			ws.writeJSON(completionFrame("finished"))
		}
	}
}
