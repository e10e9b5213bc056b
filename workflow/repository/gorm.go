package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/flowengine/workflow"
)

// WorkflowRecord 工作流定义表
type WorkflowRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	OwnerID     string `gorm:"size:64;index"`
	Shared      bool   `gorm:"not null;default:false"`
	Structure   string `gorm:"type:text;not null"` // 图的 JSON 表示
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定表名（与迁移脚本一致）
func (WorkflowRecord) TableName() string { return "workflows" }

// WorkflowGrant 工作流访问授权
type WorkflowGrant struct {
	WorkflowID string `gorm:"primaryKey;size:64"`
	UserID     string `gorm:"primaryKey;size:64"`
	CreatedAt  time.Time
}

// TableName 指定表名（与迁移脚本一致）
func (WorkflowGrant) TableName() string { return "workflow_grants" }

// GormRepository 基于 GORM 的工作流仓库
type GormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRepository 创建仓库。autoMigrate 为 true 时使用 GORM 自动建表
func NewGormRepository(db *gorm.DB, autoMigrate bool, logger *zap.Logger) (*GormRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := db.AutoMigrate(&WorkflowRecord{}, &WorkflowGrant{}); err != nil {
			return nil, fmt.Errorf("failed to migrate workflow tables: %w", err)
		}
	}
	return &GormRepository{
		db:     db,
		logger: logger.With(zap.String("component", "workflow_repository")),
	}, nil
}

func (r *GormRepository) Save(ctx context.Context, wf *Workflow) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if wf.Graph == nil {
		return fmt.Errorf("workflow %s has no graph", wf.ID)
	}
	structure, err := json.Marshal(wf.Graph)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", wf.ID, err)
	}
	rec := WorkflowRecord{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		OwnerID:     wf.OwnerID,
		Shared:      wf.Shared,
		Structure:   string(structure),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "owner_id", "shared", "structure", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		r.logger.Error("save workflow failed", zap.String("workflow_id", wf.ID), zap.Error(err))
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (r *GormRepository) load(ctx context.Context, id string) (*WorkflowRecord, error) {
	var rec WorkflowRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	return &rec, nil
}

func (r *GormRepository) toWorkflow(rec *WorkflowRecord) (*Workflow, error) {
	g, err := workflow.ParseGraphJSON([]byte(rec.Structure))
	if err != nil {
		return nil, fmt.Errorf("workflow %s has invalid structure: %w", rec.ID, err)
	}
	return &Workflow{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		OwnerID:     rec.OwnerID,
		Shared:      rec.Shared,
		Graph:       g,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*Workflow, error) {
	rec, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.toWorkflow(rec)
}

func (r *GormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&WorkflowRecord{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete workflow %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return tx.Where("workflow_id = ?", id).Delete(&WorkflowGrant{}).Error
	})
}

// List 返回 ownerID 拥有的工作流；ownerID 为空时返回全部
func (r *GormRepository) List(ctx context.Context, ownerID string) ([]*Workflow, error) {
	q := r.db.WithContext(ctx).Order("id")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var recs []WorkflowRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	out := make([]*Workflow, 0, len(recs))
	for i := range recs {
		wf, err := r.toWorkflow(&recs[i])
		if err != nil {
			r.logger.Warn("skipping workflow with invalid structure", zap.String("workflow_id", recs[i].ID), zap.Error(err))
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}

func (r *GormRepository) Grant(ctx context.Context, workflowID, userID string) error {
	if _, err := r.load(ctx, workflowID); err != nil {
		return err
	}
	g := WorkflowGrant{WorkflowID: workflowID, UserID: userID}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&g).Error
	if err != nil {
		return fmt.Errorf("failed to grant access: %w", err)
	}
	return nil
}

func (r *GormRepository) Revoke(ctx context.Context, workflowID, userID string) error {
	err := r.db.WithContext(ctx).
		Where("workflow_id = ? AND user_id = ?", workflowID, userID).
		Delete(&WorkflowGrant{}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke access: %w", err)
	}
	return nil
}

// GetStructure 返回工作流图
func (r *GormRepository) GetStructure(ctx context.Context, workflowID string) (*workflow.Graph, error) {
	wf, err := r.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return wf.Graph, nil
}

// CheckAccess 判断 userID 能否调用该工作流；工作流不存在时返回 ErrNotFound
func (r *GormRepository) CheckAccess(ctx context.Context, workflowID, userID string) (bool, error) {
	rec, err := r.load(ctx, workflowID)
	if err != nil {
		return false, err
	}
	if canAccess(&Workflow{OwnerID: rec.OwnerID, Shared: rec.Shared}, userID, false) {
		return true, nil
	}
	var n int64
	err = r.db.WithContext(ctx).Model(&WorkflowGrant{}).
		Where("workflow_id = ? AND user_id = ?", workflowID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	return n > 0, nil
}

var (
	_ Repository = (*GormRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
