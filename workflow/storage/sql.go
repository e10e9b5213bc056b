package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVEntry 存储节点的持久化记录
type KVEntry struct {
	Key       string     `gorm:"column:storage_key;primaryKey;size:512"`
	Value     string     `gorm:"type:text;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定表名（与迁移脚本一致）
func (KVEntry) TableName() string { return "workflow_kv" }

// SQLStore 基于 GORM 的存储节点后端，适用于 Postgres / MySQL / SQLite
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLStore 创建 SQL 存储。表结构由迁移创建；autoMigrate 为 true 时使用 GORM 自动建表
func NewSQLStore(db *gorm.DB, autoMigrate bool, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := db.AutoMigrate(&KVEntry{}); err != nil {
			return nil, fmt.Errorf("failed to migrate kv table: %w", err)
		}
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "sql_storage")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLStore) live(db *gorm.DB) *gorm.DB {
	return db.Where("expires_at IS NULL OR expires_at > ?", s.now())
}

func (s *SQLStore) Get(ctx context.Context, key string) (any, bool, error) {
	var e KVEntry
	err := s.live(s.db.WithContext(ctx)).Where("storage_key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Error("storage get failed", zap.String("key", key), zap.Error(err))
		return nil, false, fmt.Errorf("storage get failed: %w", err)
	}
	v, err := decode([]byte(e.Value))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	e := KVEntry{Key: key, Value: string(data)}
	if ttl > 0 {
		exp := s.now().Add(ttl)
		e.ExpiresAt = &exp
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		s.logger.Error("storage set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("storage set failed: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) (bool, error) {
	res := s.live(s.db.WithContext(ctx)).Where("storage_key = ?", key).Delete(&KVEntry{})
	if res.Error != nil {
		s.logger.Error("storage delete failed", zap.String("key", key), zap.Error(res.Error))
		return false, fmt.Errorf("storage delete failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := s.live(s.db.WithContext(ctx).Model(&KVEntry{})).
		Where("storage_key LIKE ? ESCAPE '!'", escapeLike(prefix)+"%").
		Order("storage_key").
		Pluck("storage_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("storage list failed: %w", err)
	}
	return keys, nil
}

// PurgeExpired 删除已过期的记录，返回删除行数
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).
		Delete(&KVEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("storage purge failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}
