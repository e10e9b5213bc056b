package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/workflow"
)

// isDefinitionFile 只识别 .json / .yaml / .yml
func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// definitionID 工作流 ID 取文件名（不含扩展名）
func definitionID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ImportDir 将目录下的工作流定义注册为共享工作流，返回导入数量.
// 任一文件解析或校验失败即停止.
func ImportDir(ctx context.Context, repo Repository, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read workflow dir: %w", err)
	}
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		if err := importFile(ctx, repo, filepath.Join(dir, e.Name())); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

func importFile(ctx context.Context, repo Repository, path string) error {
	g, err := workflow.LoadGraphFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	id := definitionID(path)
	return repo.Save(ctx, &Workflow{ID: id, Name: id, Shared: true, Graph: g})
}

// --- 目录监听 ---

// ChangeOp 定义文件的变更类型
type ChangeOp int

const (
	// ChangeCreate 新增定义文件
	ChangeCreate ChangeOp = iota
	// ChangeWrite 定义文件被修改
	ChangeWrite
	// ChangeRemove 定义文件被删除
	ChangeRemove
)

func (op ChangeOp) String() string {
	switch op {
	case ChangeCreate:
		return "CREATE"
	case ChangeWrite:
		return "WRITE"
	case ChangeRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Change 是一次已应用到仓库的定义变更
type Change struct {
	WorkflowID string    `json:"workflowId"`
	Path       string    `json:"path"`
	Op         ChangeOp  `json:"op"`
	Timestamp  time.Time `json:"timestamp"`
	Err        error     `json:"-"`
}

// DirWatcher 轮询工作流定义目录，把新增、修改与删除同步到仓库.
// 同一文件在防抖窗口内的多次变更只应用最后一次.
type DirWatcher struct {
	repo     Repository
	dir      string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	modTimes  map[string]time.Time
	callbacks []func(Change)
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// WatcherOption 配置 DirWatcher
type WatcherOption func(*DirWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *DirWatcher) { w.interval = d }
}

// WithDebounce 设置防抖时间
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *DirWatcher) { w.debounce = d }
}

// WithWatcherLogger 设置日志
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *DirWatcher) { w.logger = logger }
}

// NewDirWatcher 创建目录监听器；目录必须存在
func NewDirWatcher(repo Repository, dir string, opts ...WatcherOption) (*DirWatcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workflow dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	w := &DirWatcher{
		repo:     repo,
		dir:      dir,
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
		modTimes: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "workflow_watcher"), zap.String("dir", dir))
	return w, nil
}

// OnChange 注册变更回调，回调在仓库更新之后调用
func (w *DirWatcher) OnChange(cb func(Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start 记录当前文件状态并开始轮询；已有文件视为已导入
func (w *DirWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	current, err := w.scan()
	if err != nil {
		return err
	}
	w.modTimes = current
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.loop(ctx, w.stopCh, w.doneCh)

	w.logger.Info("workflow watcher started",
		zap.Int("files", len(current)),
		zap.Duration("interval", w.interval))
	return nil
}

// Stop 停止轮询并等待后台协程退出
func (w *DirWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("workflow watcher stopped")
}

func (w *DirWatcher) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	pending := make(map[string]ChangeOp)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			for path, op := range w.poll() {
				pending[path] = op
			}
			if len(pending) > 0 && debounce == nil {
				debounce = time.After(w.debounce)
			}
		case <-debounce:
			debounce = nil
			for path, op := range pending {
				w.apply(ctx, path, op)
			}
			pending = make(map[string]ChangeOp)
		}
	}
}

// scan 返回目录下所有定义文件的修改时间
func (w *DirWatcher) scan() (map[string]time.Time, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow dir: %w", err)
	}
	out := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[filepath.Join(w.dir, e.Name())] = info.ModTime()
	}
	return out, nil
}

// poll 与上次扫描比较，得出变更
func (w *DirWatcher) poll() map[string]ChangeOp {
	current, err := w.scan()
	if err != nil {
		w.logger.Warn("scan failed", zap.Error(err))
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	changes := make(map[string]ChangeOp)
	for path, mod := range current {
		last, existed := w.modTimes[path]
		switch {
		case !existed:
			changes[path] = ChangeCreate
		case mod.After(last):
			changes[path] = ChangeWrite
		}
	}
	for path := range w.modTimes {
		if _, ok := current[path]; !ok {
			changes[path] = ChangeRemove
		}
	}
	w.modTimes = current
	return changes
}

func (w *DirWatcher) apply(ctx context.Context, path string, op ChangeOp) {
	change := Change{WorkflowID: definitionID(path), Path: path, Op: op, Timestamp: time.Now()}

	if op == ChangeRemove {
		change.Err = w.repo.Delete(ctx, change.WorkflowID)
	} else {
		change.Err = importFile(ctx, w.repo, path)
	}

	if change.Err != nil {
		w.logger.Error("failed to apply workflow change",
			zap.String("workflow_id", change.WorkflowID),
			zap.String("op", op.String()),
			zap.Error(change.Err))
	} else {
		w.logger.Info("workflow definition reloaded",
			zap.String("workflow_id", change.WorkflowID),
			zap.String("op", op.String()))
	}

	w.mu.Lock()
	callbacks := make([]func(Change), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()
	for _, cb := range callbacks {
		cb(change)
	}
}
