package approval

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/ctxkeys"
)

// 推送事件类型
const (
	EventPending = "pending" // 连接建立时已存在的审批
	EventCreated = "created" // 连接期间新建的审批
)

// FeedEvent 是推送给审批人的一条消息.
type FeedEvent struct {
	Type     string    `json:"type"`
	Approval *Approval `json:"approval"`
}

// Feed 通过 WebSocket 向审批人推送审批请求.
//
// 连接地址可带 ?workflowId=... 只订阅单个工作流。连接建立后先推送
// 当前待处理的审批，再推送新建的审批；同一审批可能在两类事件中各出现
// 一次，客户端按 id 去重。请求上下文带有用户身份时，只推送该用户
// 有权处理的审批。
type Feed struct {
	manager        *Manager
	access         AccessChecker
	logger         *zap.Logger
	originPatterns []string
	bufferSize     int

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	workflowID string
	userID     string
	ch         chan *Approval
}

// NewFeed 创建推送端点并注册到 manager；originPatterns 为空时只允许同源连接.
func NewFeed(m *Manager, logger *zap.Logger, originPatterns ...string) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Feed{
		manager:        m,
		logger:         logger.With(zap.String("component", "approval_feed")),
		originPatterns: originPatterns,
		bufferSize:     16,
		subs:           make(map[*subscriber]struct{}),
	}
	m.RegisterHandler(f.publish)
	return f
}

// Subscribers 返回当前连接数.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// WithAccessChecker 让工作流的协作者也能收到他人发起的审批.
func (f *Feed) WithAccessChecker(c AccessChecker) *Feed {
	f.access = c
	return f
}

func (f *Feed) publish(ctx context.Context, a *Approval) error {
	f.mu.Lock()
	subs := make([]*subscriber, 0, len(f.subs))
	for s := range f.subs {
		if s.workflowID == "" || s.workflowID == a.WorkflowID {
			subs = append(subs, s)
		}
	}
	f.mu.Unlock()

	for _, s := range subs {
		if !f.visibleTo(ctx, a, s.userID) {
			continue
		}
		select {
		case s.ch <- a:
		default:
			f.logger.Warn("subscriber lagging, approval dropped", zap.String("id", a.ID))
		}
	}
	return nil
}

func (f *Feed) visibleTo(ctx context.Context, a *Approval, userID string) bool {
	ok, err := visible(ctx, f.access, a, userID)
	if err != nil {
		f.logger.Warn("check approval access failed", zap.String("id", a.ID), zap.Error(err))
		return false
	}
	return ok
}

func (f *Feed) subscribe(workflowID, userID string) *subscriber {
	s := &subscriber{workflowID: workflowID, userID: userID, ch: make(chan *Approval, f.bufferSize)}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

func (f *Feed) unsubscribe(s *subscriber) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: f.originPatterns})
	if err != nil {
		// Accept 已写入错误响应
		f.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	workflowID := r.URL.Query().Get("workflowId")
	userID, _ := ctxkeys.UserID(r.Context())
	sub := f.subscribe(workflowID, userID)
	defer f.unsubscribe(sub)

	// 客户端只读；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	for _, a := range f.manager.Pending(workflowID) {
		if !f.visibleTo(ctx, a, userID) {
			continue
		}
		if err := wsjson.Write(ctx, conn, FeedEvent{Type: EventPending, Approval: a}); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case a := <-sub.ch:
			if err := wsjson.Write(ctx, conn, FeedEvent{Type: EventCreated, Approval: a}); err != nil {
				f.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
