// Package dm keeps bounded direct-message conversation logs keyed by
// conversation id.
package dm

import (
	"slices"

	"github.com/koltyakov/fedchat/internal/domain"
)

// Store is owned by the event loop and is not safe for concurrent use.
type Store struct {
	convs map[string][]domain.DirectMessage
}

// New returns an empty store.
func New() *Store {
	return &Store{convs: make(map[string][]domain.DirectMessage)}
}

// Restore replaces the store contents with persisted conversations.
func (s *Store) Restore(convs map[string][]domain.DirectMessage) {
	s.convs = make(map[string][]domain.DirectMessage, len(convs))
	for id, msgs := range convs {
		if len(msgs) > domain.DMLogLimit {
			msgs = slices.Clone(msgs[len(msgs)-domain.DMLogLimit:])
		}
		s.convs[id] = msgs
	}
}

// Append adds msg to the conversation, evicting the oldest entries past
// the bound. A message whose id is already present is ignored and Append
// reports false.
func (s *Store) Append(conversationID string, msg domain.DirectMessage) bool {
	log := s.convs[conversationID]
	if msg.ID != "" && slices.ContainsFunc(log, func(m domain.DirectMessage) bool { return m.ID == msg.ID }) {
		return false
	}
	msg.ConversationID = conversationID
	s.convs[conversationID] = domain.AppendBounded(log, msg, domain.DMLogLimit)
	return true
}

// History returns a copy of the conversation, oldest first.
func (s *Store) History(conversationID string) []domain.DirectMessage {
	return slices.Clone(s.convs[conversationID])
}

// Len reports the number of conversations.
func (s *Store) Len() int { return len(s.convs) }
