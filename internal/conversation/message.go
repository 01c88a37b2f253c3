package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role 标识消息的发送方。
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Message 是聊天记录中的一条消息，写入后不再修改。
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Formatted bool      `json:"formatted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage 创建一条带 ID 与时间戳的消息。
func NewMessage(role Role, content string, formatted bool) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Formatted: formatted,
		CreatedAt: time.Now().UTC(),
	}
}

// Log 是按插入顺序保存的只追加消息列表。
type Log struct {
	mu       sync.RWMutex
	messages []Message
}

// Append 追加一条消息并返回它。
func (l *Log) Append(m Message) Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, m)
	return m
}

// Messages 返回消息列表的副本。
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len 返回消息条数。
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last 返回最后一条消息。
func (l *Log) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}
