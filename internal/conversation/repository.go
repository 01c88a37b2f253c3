package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Repository 持久化对话记录。
type Repository interface {
	Append(ctx context.Context, conversationID string, msg Message) error
	List(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Close() error
}

// Record 是对话记录在外部存储中的行格式。
type Record struct {
	ConversationID string `json:"conversation_id"`
	Message
}

// Tail 返回 messages 的最后 limit 条，limit<=0 表示全部。
func Tail(messages []Message, limit int) []Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}

// MemoryRepository 把记录保存在进程内存中。
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string][]Message
}

// NewMemoryRepository 创建内存仓库。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string][]Message)}
}

// Append 追加一条消息。
func (m *MemoryRepository) Append(_ context.Context, conversationID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[conversationID] = append(m.byID[conversationID], msg)
	return nil
}

// List 按插入顺序返回最近的 limit 条消息。
func (m *MemoryRepository) List(_ context.Context, conversationID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := Tail(m.byID[conversationID], limit)
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Close 无需释放资源。
func (m *MemoryRepository) Close() error { return nil }

// FileRepository 以 JSON Lines 追加写入本地文件，启动时回放历史。
type FileRepository struct {
	mu       sync.RWMutex
	dataFile string
	byID     map[string][]Message
}

// NewFileRepository 在 dataDir 下创建或打开 transcript.log。
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileRepository{
		dataFile: filepath.Join(dataDir, "transcript.log"),
		byID:     make(map[string][]Message),
	}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Append 以追加写的方式记录消息。
func (f *FileRepository) Append(_ context.Context, conversationID string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开对话日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(Record{ConversationID: conversationID, Message: msg})
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入对话日志失败: %w", err)
	}

	f.byID[conversationID] = append(f.byID[conversationID], msg)
	return nil
}

// List 按插入顺序返回最近的 limit 条消息。
func (f *FileRepository) List(_ context.Context, conversationID string, limit int) ([]Message, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	msgs := Tail(f.byID[conversationID], limit)
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Close 无需释放资源，文件在每次写入后关闭。
func (f *FileRepository) Close() error { return nil }

func (f *FileRepository) loadFromDisk() error {
	file, err := os.OpenFile(f.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取对话日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		f.byID[record.ConversationID] = append(f.byID[record.ConversationID], record.Message)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析对话日志失败: %w", err)
	}
	return nil
}
