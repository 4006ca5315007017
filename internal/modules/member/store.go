// README: Member store backed by PostgreSQL; implements the directory
// contract consumed by the party module.
package member

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"unipool/internal/types"
)

var ErrNotFound = errors.New("member not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Member, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, nickname, gender, total_saved_amount, party_create_count
        FROM members
        WHERE id = $1`, int64(id),
	)

	var m Member
	err := row.Scan(&m.ID, &m.Nickname, &m.Gender, &m.TotalSavedAmount, &m.PartyCreateCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) Exists(ctx context.Context, id types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`, int64(id))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// IncrementPartyCreateCount runs as its own statement so the async counter
// task commits independently of the creating transaction.
func (s *Store) IncrementPartyCreateCount(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE members SET party_create_count = party_create_count + 1
        WHERE id = $1`, int64(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
