// README: Chat message store backed by PostgreSQL.
package chat

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"unipool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, m *Message) error {
	var senderID *int64
	if m.SenderID != nil {
		v := int64(*m.SenderID)
		senderID = &v
	}
	row := s.db.QueryRow(ctx, `
        INSERT INTO messages (party_id, sender_id, type, content, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`,
		int64(m.PartyID), senderID, string(m.Type), m.Content, m.CreatedAt,
	)
	return row.Scan(&m.ID)
}

func (s *Store) ListByParty(ctx context.Context, partyID types.ID, afterID types.ID, limit int) ([]*Message, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, party_id, sender_id, type, content, created_at
        FROM messages
        WHERE party_id = $1 AND id > $2
        ORDER BY id ASC
        LIMIT $3`,
		int64(partyID), int64(afterID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		var senderID *int64
		if err := rows.Scan(&m.ID, &m.PartyID, &senderID, &m.Type, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		if senderID != nil {
			v := types.ID(*senderID)
			m.SenderID = &v
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
