package model

import "time"

// Role 标识消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source 是助手回答所引用的课程片段。
type Source struct {
	CourseID    string  `json:"course_id"`
	ChapterID   string  `json:"chapter_id"`
	Sequence    int     `json:"chunk_sequence"`
	StartOffset int     `json:"start_offset"`
	EndOffset   int     `json:"end_offset"`
	ChunkText   string  `json:"chunk_text"`
	Score       float64 `json:"score"`
}

// Message 代表会话中的单条消息，创建后不再修改。
type Message struct {
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Sources    []Source  `json:"sources,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Clone 返回消息的深拷贝，避免调用方通过共享切片修改历史。
func (m Message) Clone() Message {
	out := m
	if m.Sources != nil {
		out.Sources = append([]Source(nil), m.Sources...)
	}
	if m.Confidence != nil {
		c := *m.Confidence
		out.Confidence = &c
	}
	return out
}

// SessionState 是会话生命周期状态。
type SessionState string

const (
	SessionCreated SessionState = "CREATED"
	SessionActive  SessionState = "ACTIVE"
	SessionExpired SessionState = "EXPIRED"
)

// Session 代表一次多轮对话。
type Session struct {
	ID           string    `json:"session_id"`
	StudentID    string    `json:"student_id,omitempty"`
	Scope        Scope     `json:"scope"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Clone 返回会话的深拷贝。
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	return &out
}

// SessionSummary 是会话的统计摘要。
type SessionSummary struct {
	SessionID         string       `json:"session_id"`
	StudentID         string       `json:"student_id,omitempty"`
	CourseID          string       `json:"course_id,omitempty"`
	State             SessionState `json:"state"`
	TotalMessages     int          `json:"total_messages"`
	UserMessages      int          `json:"user_messages"`
	AssistantMessages int          `json:"ai_responses"`
	DurationSeconds   float64      `json:"session_duration"`
	CreatedAt         LocalTime    `json:"created_at"`
	UpdatedAt         LocalTime    `json:"updated_at"`
}
