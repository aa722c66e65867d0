package handler

import (
	"course-rag-go/internal/model"
	"course-rag-go/internal/service"
	"course-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理会话的创建、历史与摘要查询。
type ConversationHandler struct {
	chatService service.ChatService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(chatService service.ChatService) *ConversationHandler {
	return &ConversationHandler{chatService: chatService}
}

// StartSessionRequest 定义了创建会话的请求体。
type StartSessionRequest struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	ChapterID string `json:"chapter_id"`
}

// StartSession 创建一个新会话。
func (h *ConversationHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载")
		return
	}
	sess, err := h.chatService.StartSession(c.Request.Context(), req.StudentID, model.Scope{CourseID: req.CourseID, ChapterID: req.ChapterID})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"session_id": sess.ID, "created_at": model.LocalTime(sess.CreatedAt)})
}

// GetHistory 返回会话的全部消息，按时间顺序排列。
func (h *ConversationHandler) GetHistory(c *gin.Context) {
	sessionID := c.Param("session_id")
	history, err := h.chatService.History(c.Request.Context(), sessionID)
	if err != nil {
		log.Warnf("[ConversationHandler] 获取历史失败, session_id: %s, error: %v", sessionID, err)
		respondError(c, err)
		return
	}
	respondOK(c, history)
}

// GetSummary 返回会话的统计摘要。
func (h *ConversationHandler) GetSummary(c *gin.Context) {
	summary, err := h.chatService.Summary(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, summary)
}
