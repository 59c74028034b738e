package notification

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InboxItem 站内信
type InboxItem struct {
	Recipient string
	Subject   string
	Body      string
	Data      map[string]interface{}
	CreatedAt time.Time
}

// Inbox 内存站内信箱
type Inbox struct {
	items map[string][]InboxItem
	mutex sync.RWMutex
}

// NewInbox 创建站内信箱
func NewInbox() *Inbox {
	return &Inbox{items: make(map[string][]InboxItem)}
}

func (b *Inbox) Dispatch(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("%w: in-app message needs a recipient", ErrRejected)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	now := time.Now().UTC()
	for _, to := range msg.To {
		b.items[to] = append(b.items[to], InboxItem{
			Recipient: to,
			Subject:   msg.Subject,
			Body:      msg.Body,
			Data:      msg.Data,
			CreatedAt: now,
		})
	}
	return nil
}

// Messages 收件人的站内信
func (b *Inbox) Messages(recipient string) []InboxItem {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return append([]InboxItem(nil), b.items[recipient]...)
}
