package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"course-rag-go/internal/model"
	"course-rag-go/internal/session"
	"course-rag-go/pkg/llm"
	"course-rag-go/pkg/log"
)

// DefaultFallbackAnswer 是生成失败时返回给学生的固定回答。
const DefaultFallbackAnswer = "I apologize, but I'm having trouble generating a response right now. " +
	"Please review the sources below or try asking your question again in a moment."

// Generator 根据组装好的消息生成回答。
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
}

// StreamGenerator 在生成过程中逐块输出回答。
type StreamGenerator interface {
	Generator
	GenerateStream(ctx context.Context, messages []llm.Message, writer llm.MessageWriter) (string, error)
}

// ChatService 是问答流程的唯一入口。
type ChatService interface {
	StartSession(ctx context.Context, studentID string, scope model.Scope) (*model.Session, error)
	Ask(ctx context.Context, req model.AskRequest) (*model.AskResponse, error)
	// AskStream 与 Ask 相同，但在生成时把回答分块写入 writer。
	AskStream(ctx context.Context, req model.AskRequest, writer llm.MessageWriter) (*model.AskResponse, error)
	History(ctx context.Context, sessionID string) ([]model.Message, error)
	Summary(ctx context.Context, sessionID string) (model.SessionSummary, error)
}

// ChatConfig 配置问答流程。
type ChatConfig struct {
	TopK            int
	MaxContextChars int
	// HistoryMessages 是组装提示词时最多读取的历史消息数，0 表示全部。
	HistoryMessages int
	GenerateTimeout time.Duration
	FallbackAnswer  string
}

type chatService struct {
	retriever SearchService
	sessions  *session.Store
	assembler *PromptAssembler
	generator Generator
	scorer    ConfidenceScorer
	cfg       ChatConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(retriever SearchService, sessions *session.Store, assembler *PromptAssembler,
	generator Generator, scorer ConfidenceScorer, cfg ChatConfig) ChatService {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.FallbackAnswer == "" {
		cfg.FallbackAnswer = DefaultFallbackAnswer
	}
	return &chatService{
		retriever: retriever,
		sessions:  sessions,
		assembler: assembler,
		generator: generator,
		scorer:    scorer,
		cfg:       cfg,
	}
}

func (s *chatService) StartSession(ctx context.Context, studentID string, scope model.Scope) (*model.Session, error) {
	return s.sessions.Create(ctx, studentID, scope)
}

func (s *chatService) Ask(ctx context.Context, req model.AskRequest) (*model.AskResponse, error) {
	return s.ask(ctx, req, nil)
}

func (s *chatService) AskStream(ctx context.Context, req model.AskRequest, writer llm.MessageWriter) (*model.AskResponse, error) {
	return s.ask(ctx, req, writer)
}

func (s *chatService) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	return s.sessions.History(ctx, sessionID, 0)
}

func (s *chatService) Summary(ctx context.Context, sessionID string) (model.SessionSummary, error) {
	return s.sessions.Summary(ctx, sessionID)
}

// ask 协调一次问答：解析会话、检索、组装、生成、评分，最后把问答一起写入会话。
// 请求被取消时不写入任何内容。
func (s *chatService) ask(ctx context.Context, req model.AskRequest, writer llm.MessageWriter) (*model.AskResponse, error) {
	start := time.Now()
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", model.ErrInvalidArgument)
	}

	// 1. 解析已有会话；新会话在检索成功后才创建，失败的请求不留下空会话
	scope := model.Scope{CourseID: req.CourseID, ChapterID: req.ChapterID}
	var sess *model.Session
	var err error
	if req.SessionID != "" {
		sess, err = s.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if scope.CourseID == "" {
			scope = sess.Scope
		}
		unlock, err := s.sessions.Lock(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	// 2. 检索，失败时整个请求失败
	result, err := s.retriever.Retrieve(ctx, question, scope, s.cfg.TopK)
	if err != nil {
		return nil, err
	}

	created := false
	if sess == nil {
		sess, err = s.sessions.Create(ctx, req.StudentID, scope)
		if err != nil {
			return nil, err
		}
		created = true
		unlock, err := s.sessions.Lock(ctx, sess.ID)
		if err != nil {
			s.discard(ctx, sess.ID)
			return nil, err
		}
		defer unlock()
	}
	fail := func(err error) (*model.AskResponse, error) {
		if created {
			s.discard(ctx, sess.ID)
		}
		return nil, err
	}

	// 3. 组装提示词
	history, err := s.sessions.History(ctx, sess.ID, s.cfg.HistoryMessages)
	if err != nil {
		return fail(err)
	}
	prompt, err := s.assembler.Assemble(question, result, history, s.cfg.MaxContextChars)
	if err != nil {
		return fail(err)
	}

	// 4. 生成，失败时降级
	answer, genErr := s.generate(ctx, prompt.Messages, writer)
	if ctx.Err() != nil {
		log.Warnf("[ChatService] 请求已取消, 不写入会话, session_id: %s", sess.ID)
		return fail(ctx.Err())
	}

	// 置信度只依据实际进入提示词的片段
	confidence := s.scorer.Score(model.RetrievalResult{Items: prompt.Chunks})
	degraded := false
	if genErr != nil {
		log.Errorf("[ChatService] 生成回答失败, 返回降级回答, session_id: %s, error: %v", sess.ID, genErr)
		answer = s.cfg.FallbackAnswer
		confidence = 0
		degraded = true
	}

	sources := model.RetrievalResult{Items: prompt.Chunks}.Sources()

	// 5. 问题与回答一起写入会话
	now := time.Now()
	conf := confidence
	err = s.sessions.Append(ctx, sess.ID,
		model.Message{Role: model.RoleUser, Text: question, Timestamp: now},
		model.Message{Role: model.RoleAssistant, Text: answer, Timestamp: now, Sources: sources, Confidence: &conf},
	)
	if err != nil {
		return fail(err)
	}

	elapsed := time.Since(start)
	log.Infof("[ChatService] 问答完成, session_id: %s, 来源数: %d, confidence: %.3f, degraded: %t, 耗时: %s",
		sess.ID, len(sources), confidence, degraded, elapsed)
	return &model.AskResponse{
		SessionID:        sess.ID,
		Answer:           answer,
		Sources:          sources,
		Confidence:       confidence,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Degraded:         degraded,
	}, nil
}

// discard 删除本次请求创建但未写入任何消息的会话。
func (s *chatService) discard(ctx context.Context, id string) {
	if err := s.sessions.Delete(context.WithoutCancel(ctx), id); err != nil {
		log.Warnf("[ChatService] 删除未使用的会话失败, session_id: %s, error: %v", id, err)
	}
}

func (s *chatService) generate(ctx context.Context, msgs []llm.Message, writer llm.MessageWriter) (string, error) {
	gctx := ctx
	if s.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, s.cfg.GenerateTimeout)
		defer cancel()
	}

	var answer string
	var err error
	if sg, ok := s.generator.(StreamGenerator); ok && writer != nil {
		answer, err = sg.GenerateStream(gctx, msgs, writer)
	} else {
		answer, err = s.generator.Generate(gctx, msgs)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrGenerationFailed, err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: empty answer", model.ErrGenerationFailed)
	}
	return answer, nil
}
