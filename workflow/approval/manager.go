package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status 代表审批请求状态.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
	StatusCanceled Status = "canceled"
)

// ErrTimeout 表示在超时时间内没有收到审批信号.
var ErrTimeout = errors.New("approval timeout")

// ErrNotFound 表示审批请求不存在或已被处理.
var ErrNotFound = errors.New("approval not found or already resolved")

// Approval 代表一个等待人工处理的审批节点实例.
type Approval struct {
	ID         string        `json:"id"`
	RunID      string        `json:"runId,omitempty"`
	WorkflowID string        `json:"workflowId,omitempty"`
	UserID     string        `json:"userId,omitempty"` // 发起运行的用户
	NodeID     string        `json:"nodeId"`
	NodeName   string        `json:"nodeName,omitempty"`
	Message    string        `json:"message"`
	Status     Status        `json:"status"`
	Response   *Response     `json:"response,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
	Timeout    time.Duration `json:"timeout"`
}

// Response 代表审批人的决定.
type Response struct {
	Approved  bool      `json:"approved"`
	Comment   string    `json:"comment,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Options 配置一次审批等待.
type Options struct {
	ID         string // 为空时自动生成
	RunID      string
	WorkflowID string
	UserID     string
	NodeID     string
	NodeName   string
	Message    string
	Timeout    time.Duration
}

// Store 定义了审批记录的存储接口.
type Store interface {
	Save(ctx context.Context, a *Approval) error
	Load(ctx context.Context, id string) (*Approval, error)
	List(ctx context.Context, workflowID string, status Status) ([]*Approval, error)
	Update(ctx context.Context, a *Approval) error
}

// Handler 在审批请求创建后被异步通知.
type Handler func(ctx context.Context, a *Approval) error

// Observer 观察审批等待的开始与结束，用于指标采集.
type Observer interface {
	ApprovalStarted()
	ApprovalFinished(outcome string)
}

// Manager 管理等待中的审批信号通道.
type Manager struct {
	store    Store
	logger   *zap.Logger
	observer Observer
	handlers []Handler
	pending  map[string]*pendingApproval
	mu       sync.RWMutex
}

type pendingApproval struct {
	approval   *Approval
	responseCh chan *Response
}

// NewManager 创建审批管理器；store 为空时使用内存存储.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		logger:  logger.With(zap.String("component", "approval_manager")),
		pending: make(map[string]*pendingApproval),
	}
}

// SetObserver 设置观察者，需在首次 Wait 前调用.
func (m *Manager) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// RegisterHandler 注册审批创建通知.
func (m *Manager) RegisterHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Wait 创建审批请求并阻塞，直到收到信号、超时或 ctx 取消.
// 超时返回 ErrTimeout；ctx 取消返回 ctx.Err().
func (m *Manager) Wait(ctx context.Context, opts Options) (*Response, error) {
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("approval timeout must be positive")
	}
	a := &Approval{
		ID:         opts.ID,
		RunID:      opts.RunID,
		WorkflowID: opts.WorkflowID,
		UserID:     opts.UserID,
		NodeID:     opts.NodeID,
		NodeName:   opts.NodeName,
		Message:    opts.Message,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		Timeout:    opts.Timeout,
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	if err := m.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save approval: %w", err)
	}

	// 先登记等待通道，再通知处理者，避免信号先于登记到达
	p := &pendingApproval{approval: a, responseCh: make(chan *Response, 1)}
	m.mu.Lock()
	m.pending[a.ID] = p
	observer := m.observer
	m.mu.Unlock()

	if observer == nil {
		return m.await(ctx, p)
	}
	observer.ApprovalStarted()
	resp, err := m.await(ctx, p)
	observer.ApprovalFinished(outcome(resp, err))
	return resp, err
}

func outcome(resp *Response, err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return string(StatusTimeout)
	case err != nil:
		return string(StatusCanceled)
	case resp.Approved:
		return string(StatusApproved)
	default:
		return string(StatusRejected)
	}
}

// await 通知处理者并等待信号、超时或 ctx 取消.
func (m *Manager) await(ctx context.Context, p *pendingApproval) (*Response, error) {
	a := p.approval

	m.logger.Info("approval requested",
		zap.String("id", a.ID),
		zap.String("workflow_id", a.WorkflowID),
		zap.String("node_id", a.NodeID),
		zap.Duration("timeout", a.Timeout),
	)
	m.notifyHandlers(ctx, a)

	timer := time.NewTimer(a.Timeout)
	defer timer.Stop()

	select {
	case resp := <-p.responseCh:
		return resp, nil
	case <-timer.C:
		if !m.claim(ctx, a.ID, StatusTimeout) {
			// 信号与超时同时到达时以信号为准
			return <-p.responseCh, nil
		}
		m.logger.Warn("approval timeout", zap.String("id", a.ID))
		return nil, ErrTimeout
	case <-ctx.Done():
		if !m.claim(context.WithoutCancel(ctx), a.ID, StatusCanceled) {
			return <-p.responseCh, nil
		}
		return nil, ctx.Err()
	}
}

// claim 移除等待项并记录终态；若已被 Resolve 抢先处理则返回 false.
func (m *Manager) claim(ctx context.Context, id string, status Status) bool {
	m.mu.Lock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	now := time.Now()
	a := *p.approval
	a.Status = status
	a.ResolvedAt = &now
	if err := m.store.Update(ctx, &a); err != nil {
		m.logger.Error("failed to update approval", zap.String("id", id), zap.Error(err))
	}
	return true
}

// Resolve 投递审批信号.
func (m *Manager) Resolve(ctx context.Context, id string, resp *Response) error {
	if resp == nil {
		return fmt.Errorf("approval response is required")
	}
	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.pending, id)
	m.mu.Unlock()

	now := time.Now()
	resp.Timestamp = now
	a := *p.approval
	a.Response = resp
	a.ResolvedAt = &now
	a.Status = StatusRejected
	if resp.Approved {
		a.Status = StatusApproved
	}

	m.logger.Info("resolving approval",
		zap.String("id", id),
		zap.Bool("approved", resp.Approved),
	)

	// 通道带缓冲且只写一次，不会阻塞
	p.responseCh <- resp

	if err := m.store.Update(ctx, &a); err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	return nil
}

// Pending 返回工作流中所有待处理的审批；workflowID 为空时返回全部.
func (m *Manager) Pending(workflowID string) []*Approval {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Approval
	for _, p := range m.pending {
		if workflowID == "" || p.approval.WorkflowID == workflowID {
			a := *p.approval
			results = append(results, &a)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })
	return results
}

// Get 从存储中读取审批记录.
func (m *Manager) Get(ctx context.Context, id string) (*Approval, error) {
	return m.store.Load(ctx, id)
}

func (m *Manager) notifyHandlers(ctx context.Context, a *Approval) {
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.RUnlock()

	for _, h := range handlers {
		snapshot := *a
		go func(h Handler) {
			if err := h(ctx, &snapshot); err != nil {
				m.logger.Error("handler error", zap.Error(err))
			}
		}(h)
	}
}
