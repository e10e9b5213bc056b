package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/flowengine/workflow"
)

// MemoryRepository 进程内工作流仓库
type MemoryRepository struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	grants    map[string]map[string]bool // workflowID -> userID
}

// NewMemoryRepository 创建内存仓库
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		workflows: make(map[string]*Workflow),
		grants:    make(map[string]map[string]bool),
	}
}

// LoadDir 将目录下的工作流定义导入内存仓库，见 ImportDir
func (r *MemoryRepository) LoadDir(ctx context.Context, dir string) (int, error) {
	return ImportDir(ctx, r, dir)
}

func (r *MemoryRepository) Save(_ context.Context, wf *Workflow) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if wf.Graph == nil {
		return fmt.Errorf("workflow %s has no graph", wf.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stored := *wf
	if prev, ok := r.workflows[wf.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.workflows[wf.ID] = &stored
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *wf
	return &cp, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.workflows, id)
	delete(r.grants, id)
	return nil
}

// List 返回 ownerID 拥有的工作流；ownerID 为空时返回全部
func (r *MemoryRepository) List(_ context.Context, ownerID string) ([]*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		if ownerID == "" || wf.OwnerID == ownerID {
			cp := *wf
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) Grant(_ context.Context, workflowID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[workflowID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	if r.grants[workflowID] == nil {
		r.grants[workflowID] = make(map[string]bool)
	}
	r.grants[workflowID][userID] = true
	return nil
}

func (r *MemoryRepository) Revoke(_ context.Context, workflowID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants[workflowID], userID)
	return nil
}

// GetStructure 返回工作流图
func (r *MemoryRepository) GetStructure(ctx context.Context, workflowID string) (*workflow.Graph, error) {
	wf, err := r.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return wf.Graph, nil
}

// CheckAccess 判断 userID 能否调用该工作流；工作流不存在时返回 ErrNotFound
func (r *MemoryRepository) CheckAccess(_ context.Context, workflowID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[workflowID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	return canAccess(wf, userID, r.grants[workflowID][userID]), nil
}
