package repository

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/flowengine/workflow"
)

// ErrNotFound 表示工作流不存在.
var ErrNotFound = errors.New("workflow not found")

// Workflow 是持久化的工作流定义.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"ownerId,omitempty"`
	Shared      bool            `json:"shared"` // 对所有用户可调用
	Graph       *workflow.Graph `json:"graph"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Repository 管理工作流定义与访问控制，同时满足引擎的子工作流仓库契约.
//
// 访问规则：所有者、被授权用户可访问；Shared 工作流对所有人开放；
// userID 为空表示系统内部调用，不做限制.
type Repository interface {
	workflow.WorkflowRepository

	Save(ctx context.Context, wf *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, ownerID string) ([]*Workflow, error)
	Grant(ctx context.Context, workflowID, userID string) error
	Revoke(ctx context.Context, workflowID, userID string) error
}

func canAccess(wf *Workflow, userID string, granted bool) bool {
	return userID == "" || wf.Shared || wf.OwnerID == userID || granted
}
