// Package session 管理多轮对话会话：创建、追加消息、读取历史以及按会话加锁。
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"course-rag-go/internal/model"
	"course-rag-go/internal/repository"
	"course-rag-go/pkg/log"

	"github.com/google/uuid"
)

type entry struct {
	// sem 是容量为 1 的信号量，持有者独占该会话的一次问答流程。
	sem chan struct{}

	mu      sync.RWMutex
	session *model.Session
}

// Store 是进程内的会话存储，可选地写穿到 SessionRepository。
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	repo  repository.SessionRepository
	ttl   time.Duration
	now   func() time.Time
	newID func() string
}

// Option 配置 Store。
type Option func(*Store)

// WithRepository 设置持久化仓库，消息在写入内存前先写入仓库。
func WithRepository(repo repository.SessionRepository) Option {
	return func(s *Store) { s.repo = repo }
}

// WithTTL 设置不活跃过期窗口，0 表示永不过期。
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore 创建会话存储。
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create 创建一个新会话，初始状态为 CREATED。
func (s *Store) Create(ctx context.Context, studentID string, scope model.Scope) (*model.Session, error) {
	now := s.now()
	sess := &model.Session{
		ID:           s.newID(),
		StudentID:    studentID,
		Scope:        scope,
		Messages:     []model.Message{},
		CreatedAt:    now,
		LastActivity: now,
	}
	if s.repo != nil {
		if err := s.repo.Save(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to persist new session: %w", err)
		}
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{sem: make(chan struct{}, 1), session: sess}
	s.mu.Unlock()

	log.Infof("[SessionStore] 创建会话, session_id: %s, student_id: %s, course_id: %s", sess.ID, studentID, scope.CourseID)
	return sess.Clone(), nil
}

// lookup 返回会话条目；内存中不存在时尝试从仓库恢复（例如服务重启后）。
func (s *Store) lookup(ctx context.Context, id string) (*entry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", model.ErrSessionNotFound)
	}
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}
	if s.repo == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}

	sess, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Messages == nil {
		sess.Messages = []model.Message{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e, nil
	}
	e = &entry{sem: make(chan struct{}, 1), session: sess}
	s.sessions[id] = e
	log.Infof("[SessionStore] 从仓库恢复会话, session_id: %s, 消息数: %d", id, len(sess.Messages))
	return e, nil
}

// Get 返回会话的快照副本。
func (s *Store) Get(ctx context.Context, id string) (*model.Session, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.Clone(), nil
}

// Append 将消息连续地追加到会话末尾。消息先写入仓库，成功后才对读者可见。
func (s *Store) Append(ctx context.Context, id string, msgs ...model.Message) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.session.Clone()
	for _, m := range msgs {
		next.Messages = append(next.Messages, m.Clone())
	}
	next.LastActivity = s.now()

	if s.repo != nil {
		if err := s.repo.Save(ctx, next); err != nil {
			return fmt.Errorf("failed to persist session %s: %w", id, err)
		}
	}
	e.session = next
	return nil
}

// History 按时间顺序（最早在前）返回最近的 max 条消息，max <= 0 时返回全部。
func (s *Store) History(ctx context.Context, id string, max int) ([]model.Message, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	msgs := e.session.Messages
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out, nil
}

// Lock 获取会话的独占锁，ctx 取消时放弃等待。返回的 unlock 可重复调用。
func (s *Store) Lock(ctx context.Context, id string) (func(), error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-e.sem })
	}, nil
}

// Summary 汇总会话的消息统计。
func (s *Store) Summary(ctx context.Context, id string) (model.SessionSummary, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return model.SessionSummary{}, err
	}
	sum := model.SessionSummary{
		SessionID:       sess.ID,
		StudentID:       sess.StudentID,
		CourseID:        sess.Scope.CourseID,
		State:           State(sess, s.now(), s.ttl),
		TotalMessages:   len(sess.Messages),
		DurationSeconds: sess.LastActivity.Sub(sess.CreatedAt).Seconds(),
		CreatedAt:       model.LocalTime(sess.CreatedAt),
		UpdatedAt:       model.LocalTime(sess.LastActivity),
	}
	for _, m := range sess.Messages {
		switch m.Role {
		case model.RoleUser:
			sum.UserMessages++
		case model.RoleAssistant:
			sum.AssistantMessages++
		}
	}
	return sum, nil
}

// Sweep 从内存中移除已过期的会话，返回移除数量。仓库中的副本由其自身的 TTL 清理。
func (s *Store) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.sessions {
		// 正在被使用的会话不回收
		select {
		case e.sem <- struct{}{}:
		default:
			continue
		}
		e.mu.RLock()
		expired := IsExpired(e.session, now, s.ttl)
		e.mu.RUnlock()
		<-e.sem
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Infof("[SessionStore] 清理过期会话 %d 个", removed)
	}
	return removed
}

// Delete 删除会话，包括仓库中的副本。
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Delete(ctx, id)
	}
	return nil
}

// Len 返回内存中的会话数量。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IsExpired 判断会话是否已超过不活跃窗口，ttl <= 0 表示永不过期。
func IsExpired(sess *model.Session, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(sess.LastActivity) > ttl
}

// State 返回会话的生命周期状态。
func State(sess *model.Session, now time.Time, ttl time.Duration) model.SessionState {
	switch {
	case IsExpired(sess, now, ttl):
		return model.SessionExpired
	case len(sess.Messages) == 0:
		return model.SessionCreated
	default:
		return model.SessionActive
	}
}
