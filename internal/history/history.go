// Package history keeps per-conversation chat turns. Conversations are
// identified by caller-supplied ids and bounded to a fixed number of
// user/assistant pairs, older pairs falling off the front.
package history

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/jarvis/internal/ai"
)

const defaultConversationLimit = 1024

// Store is the conversation memory the chat pipeline reads and writes.
type Store interface {
	Messages(conversationID string) []ai.Message
	Append(conversationID string, userMsg, assistantMsg string)
	Clear(conversationID string)
	Len(conversationID string) int
	// Active reports how many conversations are currently held.
	Active() int
}

type conversation struct {
	mu   sync.Mutex
	msgs []ai.Message
}

type memoryStore struct {
	mu       sync.Mutex
	convs    *expirable.LRU[string, *conversation]
	maxPairs int
}

// NewMemoryStore keeps conversations in process memory. Idle conversations
// expire after ttl; a zero ttl keeps them until evicted by capacity.
func NewMemoryStore(maxPairs int, ttl time.Duration) Store {
	return &memoryStore{
		convs:    expirable.NewLRU[string, *conversation](defaultConversationLimit, nil, ttl),
		maxPairs: maxPairs,
	}
}

func (s *memoryStore) get(conversationID string, create bool) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs.Get(conversationID); ok {
		return conv
	}
	if !create {
		return nil
	}
	conv := &conversation{}
	s.convs.Add(conversationID, conv)
	return conv
}

func (s *memoryStore) Messages(conversationID string) []ai.Message {
	conv := s.get(conversationID, false)
	if conv == nil {
		return nil
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	out := make([]ai.Message, len(conv.msgs))
	copy(out, conv.msgs)
	return out
}

func (s *memoryStore) Append(conversationID string, userMsg, assistantMsg string) {
	conv := s.get(conversationID, true)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	conv.msgs = append(conv.msgs,
		ai.Message{Role: ai.RoleUser, Content: userMsg},
		ai.Message{Role: ai.RoleAssistant, Content: assistantMsg},
	)
	if max := s.maxPairs * 2; max > 0 && len(conv.msgs) > max {
		conv.msgs = append(conv.msgs[:0], conv.msgs[len(conv.msgs)-max:]...)
	}
}

func (s *memoryStore) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs.Remove(conversationID)
}

func (s *memoryStore) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs.Len()
}

func (s *memoryStore) Len(conversationID string) int {
	conv := s.get(conversationID, false)
	if conv == nil {
		return 0
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return len(conv.msgs)
}
