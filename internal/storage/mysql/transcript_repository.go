package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cryptonite/internal/conversation"
)

// TranscriptRepository 使用 MySQL 存储对话消息。
type TranscriptRepository struct {
	db *sql.DB
}

var _ conversation.Repository = (*TranscriptRepository)(nil)

// NewTranscriptRepository 建立连接池并执行迁移。
func NewTranscriptRepository(ctx context.Context, cfg Config) (*TranscriptRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo, err := NewTranscriptRepositoryWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewTranscriptRepositoryWithDB 在已有连接上执行迁移并返回仓库。
func NewTranscriptRepositoryWithDB(ctx context.Context, db *sql.DB) (*TranscriptRepository, error) {
	if err := runMigrations(ctx, db); err != nil {
		return nil, err
	}
	return &TranscriptRepository{db: db}, nil
}

// Append 写入一条消息。
func (r *TranscriptRepository) Append(ctx context.Context, conversationID string, msg conversation.Message) error {
	const stmt = `INSERT INTO conversation_messages
        (message_id, conversation_id, role, content, formatted, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, stmt,
		msg.ID,
		conversationID,
		string(msg.Role),
		msg.Content,
		msg.Formatted,
		msg.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("写入对话消息失败: %w", err)
	}
	return nil
}

// List 按插入顺序返回会话最近的 limit 条消息，limit<=0 返回全部。
func (r *TranscriptRepository) List(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, `SELECT message_id, role, content, formatted, created_at
        FROM conversation_messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`, conversationID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT message_id, role, content, formatted, created_at
        FROM conversation_messages WHERE conversation_id = ? ORDER BY id DESC`, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询对话消息失败: %w", err)
	}
	defer rows.Close()

	var messages []conversation.Message
	for rows.Next() {
		var (
			msg       conversation.Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Formatted, &createdAt); err != nil {
			return nil, fmt.Errorf("解析对话消息失败: %w", err)
		}
		msg.Role = conversation.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历对话消息失败: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Close 关闭底层数据库连接。
func (r *TranscriptRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
