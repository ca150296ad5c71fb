package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aksrustagi/settle/audit"
)

// AppendAudit pushes a new entry onto the append-only audit List.
func (s *Store) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("settle/redis: encode audit entry: %w", err)
	}
	if err := s.client.RPush(ctx, auditLogKey, data).Err(); err != nil {
		return fmt.Errorf("settle/redis: append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit entries matching the given options in
// recording order. The List is already ordered by arrival.
func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	raw, err := s.client.LRange(ctx, auditLogKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("settle/redis: list audit: %w", err)
	}

	var entries []*audit.Entry
	for _, item := range raw {
		var entry audit.Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("settle/redis: decode audit entry: %w", err)
		}
		if !opts.RunID.IsNil() && entry.RunID.String() != opts.RunID.String() {
			continue
		}
		if opts.Account != "" && entry.Account != opts.Account {
			continue
		}
		if opts.Action != "" && entry.Action != opts.Action {
			continue
		}
		entries = append(entries, &entry)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// CountAudit returns the total number of audit entries.
func (s *Store) CountAudit(ctx context.Context) (int64, error) {
	count, err := s.client.LLen(ctx, auditLogKey).Result()
	if err != nil {
		return 0, fmt.Errorf("settle/redis: count audit: %w", err)
	}
	return count, nil
}
