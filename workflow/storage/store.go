package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store 是存储节点使用的键值后端。键已由调用方按工作流作用域拼接。
// Get 对不存在的键返回 found=false 而不是错误；Delete 对不存在的键是 no-op。
type Store interface {
	Get(ctx context.Context, key string) (value any, found bool, err error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) (deleted bool, err error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ScopeKey 返回工作流作用域下的键：<workflowID>:<key>
func ScopeKey(workflowID, key string) string {
	return workflowID + ":" + key
}

// encode 将值序列化为 JSON，保证各后端读出的值形状一致
func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal storage value: %w", err)
	}
	return data, nil
}

func decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal storage value: %w", err)
	}
	return v, nil
}
