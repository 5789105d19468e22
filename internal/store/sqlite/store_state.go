package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/koltyakov/fedchat/internal/domain"
)

// State is everything restored at startup.
type State struct {
	Global        []domain.ChatMessage
	Guilds        []*domain.Guild
	Conversations map[string][]domain.DirectMessage
}

// LoadState reads all three snapshot tables. Undecodable rows and
// conversations stored under a malformed id are reported in skipped rather
// than failing the load.
func (s *Store) LoadState(ctx context.Context) (State, []string, error) {
	st := State{Conversations: make(map[string][]domain.DirectMessage)}
	var skipped []string

	logs, err := s.LoadDocs(ctx, TableMessageLog)
	if err != nil {
		return State{}, nil, fmt.Errorf("load message log: %w", err)
	}
	if raw, ok := logs[GlobalLogKey]; ok {
		if err := json.Unmarshal(raw, &st.Global); err != nil {
			skipped = append(skipped, TableMessageLog+"/"+GlobalLogKey)
		}
	}

	guilds, err := s.LoadDocs(ctx, TableGuilds)
	if err != nil {
		return State{}, nil, fmt.Errorf("load guilds: %w", err)
	}
	for key, raw := range guilds {
		var g domain.Guild
		if err := json.Unmarshal(raw, &g); err != nil || g.ID != key {
			skipped = append(skipped, TableGuilds+"/"+key)
			continue
		}
		st.Guilds = append(st.Guilds, &g)
	}

	convs, err := s.LoadDocs(ctx, TableDMConversations)
	if err != nil {
		return State{}, nil, fmt.Errorf("load dm conversations: %w", err)
	}
	for key, raw := range convs {
		if _, _, ok := domain.ConversationMembers(key); !ok {
			skipped = append(skipped, TableDMConversations+"/"+key)
			continue
		}
		var msgs []domain.DirectMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			skipped = append(skipped, TableDMConversations+"/"+key)
			continue
		}
		st.Conversations[key] = msgs
	}
	return st, skipped, nil
}
