package action

import (
	"errors"
	"sync"
)

// ErrSlotOccupied 表示已有一个动作在等待确认。
var ErrSlotOccupied = errors.New("a pending action already awaits confirmation")

// Slot 保存至多一个待确认的动作。
type Slot struct {
	mu      sync.Mutex
	current *Descriptor
}

// Offer 在槽位为空时放入描述，否则返回 ErrSlotOccupied 且不覆盖已有描述。
func (s *Slot) Offer(d Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return ErrSlotOccupied
	}
	copied := d
	s.current = &copied
	return nil
}

// Current 返回当前待确认的描述。
func (s *Slot) Current() (Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Descriptor{}, false
	}
	return *s.current, true
}

// Resolve 仅在 id 与当前描述一致时清空槽位，过期的回调不会清掉更新的描述。
func (s *Slot) Resolve(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.ID != id {
		return false
	}
	s.current = nil
	return true
}
