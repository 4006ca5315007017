// README: Party store backed by PostgreSQL; ranked search runs the
// great-circle distance formula in SQL.
package party

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"unipool/internal/types"
)

type PgStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const partyColumns = `
    p.id, p.name, p.is_deleted, p.host_member_id,
    p.start_name, p.start_address, p.start_lng, p.start_lat,
    p.end_name, p.end_address, p.end_lng, p.end_lat,
    p.departure_at, p.comment, p.current_count, p.max_count,
    p.same_gender_only, p.cost_share_before_dropoff, p.quiet_mode, p.destination_change_allowed,
    p.reminder_sent, p.savings_calculated, p.estimated_fare, p.notification,
    p.created_at, p.version`

// Great-circle distance in metres between a party place column pair and a
// query point, the same formula the original ST_Distance_Sphere ranking used.
func sphereDistSQL(lngCol, latCol, lngParam, latParam string) string {
	return fmt.Sprintf(`(12742000 * asin(sqrt(
        power(sin(radians((%[2]s - %[4]s) / 2)), 2) +
        cos(radians(%[4]s)) * cos(radians(%[2]s)) *
        power(sin(radians((%[1]s - %[3]s) / 2)), 2)
    )))`, lngCol, latCol, lngParam, latParam)
}

func (s *PgStore) Create(ctx context.Context, p *Party) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
        INSERT INTO parties (
            name, is_deleted, host_member_id,
            start_name, start_address, start_lng, start_lat,
            end_name, end_address, end_lng, end_lat,
            departure_at, comment, current_count, max_count,
            same_gender_only, cost_share_before_dropoff, quiet_mode, destination_change_allowed,
            reminder_sent, savings_calculated, estimated_fare, notification,
            created_at, version
        ) VALUES (
            $1, false, $2,
            $3, $4, $5, $6,
            $7, $8, $9, $10,
            $11, $12, $13, $14,
            $15, $16, $17, $18,
            false, false, NULL, '',
            $19, 0
        )
        RETURNING id`,
		p.Name, int64(p.HostMemberID),
		placeNameCol(p.StartPlace), placeAddressCol(p.StartPlace), placeLng(p.StartPlace), placeLat(p.StartPlace),
		placeNameCol(p.EndPlace), placeAddressCol(p.EndPlace), placeLng(p.EndPlace), placeLat(p.EndPlace),
		p.DepartureAt, p.Comment, p.CurrentCount, p.MaxCount,
		p.Options.SameGenderOnly, p.Options.CostShareBeforeDropOff, p.Options.QuietMode, p.Options.DestinationChangeAllowed,
		p.CreatedAt,
	)
	if err := row.Scan(&p.ID); err != nil {
		return err
	}

	for _, m := range p.Members {
		if _, err := tx.Exec(ctx, `
            INSERT INTO party_members (party_id, member_id, joined_at)
            VALUES ($1, $2, $3)`,
			int64(p.ID), int64(m.MemberID), m.JoinedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PgStore) GetActive(ctx context.Context, id types.ID) (*Party, error) {
	return s.getWhere(ctx, `p.id = $1 AND p.is_deleted = false`, int64(id))
}

func (s *PgStore) GetAny(ctx context.Context, id types.ID) (*Party, error) {
	return s.getWhere(ctx, `p.id = $1`, int64(id))
}

func (s *PgStore) getWhere(ctx context.Context, cond string, args ...any) (*Party, error) {
	row := s.db.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties p WHERE `+cond, args...)
	p, err := scanParty(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPartyNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, []*Party{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateSnapshot rewrites the party row and its membership set as one
// transaction, guarded by the optimistic version column. Concurrent join and
// leave on the same party serialize here.
func (s *PgStore) UpdateSnapshot(ctx context.Context, p *Party) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updatePartyRow(ctx, tx, p); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM party_members WHERE party_id = $1`, int64(p.ID)); err != nil {
		return err
	}
	for _, m := range p.Members {
		if _, err := tx.Exec(ctx, `
            INSERT INTO party_members (party_id, member_id, joined_at)
            VALUES ($1, $2, $3)`,
			int64(p.ID), int64(m.MemberID), m.JoinedAt,
		); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.Version++
	return nil
}

func (s *PgStore) CommitSavings(ctx context.Context, p *Party, memberIDs []types.ID, savingPerMember int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updatePartyRow(ctx, tx, p); err != nil {
		return err
	}

	ids := make([]int64, len(memberIDs))
	for i, id := range memberIDs {
		ids[i] = int64(id)
	}
	if _, err := tx.Exec(ctx, `
        UPDATE members SET total_saved_amount = total_saved_amount + $1
        WHERE id = ANY($2)`,
		savingPerMember, ids,
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.Version++
	return nil
}

func updatePartyRow(ctx context.Context, tx pgx.Tx, p *Party) error {
	tag, err := tx.Exec(ctx, `
        UPDATE parties SET
            name = $1, is_deleted = $2, host_member_id = $3,
            start_name = $4, start_address = $5, start_lng = $6, start_lat = $7,
            end_name = $8, end_address = $9, end_lng = $10, end_lat = $11,
            departure_at = $12, comment = $13, current_count = $14, max_count = $15,
            same_gender_only = $16, cost_share_before_dropoff = $17, quiet_mode = $18, destination_change_allowed = $19,
            reminder_sent = $20, savings_calculated = $21, estimated_fare = $22, notification = $23,
            version = version + 1
        WHERE id = $24 AND version = $25`,
		p.Name, p.Deleted, int64(p.HostMemberID),
		placeNameCol(p.StartPlace), placeAddressCol(p.StartPlace), placeLng(p.StartPlace), placeLat(p.StartPlace),
		placeNameCol(p.EndPlace), placeAddressCol(p.EndPlace), placeLng(p.EndPlace), placeLat(p.EndPlace),
		p.DepartureAt, p.Comment, p.CurrentCount, p.MaxCount,
		p.Options.SameGenderOnly, p.Options.CostShareBeforeDropOff, p.Options.QuietMode, p.Options.DestinationChangeAllowed,
		p.ReminderSent, p.SavingsCalculated, p.EstimatedFare, p.Notification,
		int64(p.ID), p.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PgStore) ListActive(ctx context.Context, page, size int) ([]*Party, error) {
	return s.queryParties(ctx, `
        SELECT `+partyColumns+`
        FROM parties p
        WHERE p.is_deleted = false
        ORDER BY p.created_at DESC
        LIMIT $1 OFFSET $2`,
		size, page*size,
	)
}

func (s *PgStore) ListByMember(ctx context.Context, memberID types.ID, now time.Time) ([]*Party, error) {
	// Upcoming parties first (soonest departure first), then departed
	// parties (most recently finished first).
	return s.queryParties(ctx, `
        SELECT `+partyColumns+`
        FROM parties p
        JOIN party_members pm ON pm.party_id = p.id
        WHERE pm.member_id = $1 AND p.is_deleted = false
        ORDER BY
            CASE WHEN p.departure_at >= $2 THEN 1 ELSE 2 END ASC,
            CASE WHEN p.departure_at >= $2 THEN p.departure_at END ASC,
            CASE WHEN p.departure_at < $2 THEN p.departure_at END DESC`,
		int64(memberID), now,
	)
}

func (s *PgStore) RankedMatches(ctx context.Context, v SearchVariant, c SearchCriteria, excludeMemberID types.ID, page, size int) ([]*Party, error) {
	const matchCond = `
        WHERE p.is_deleted = false
          AND p.departure_at >= NOW()
          AND NOT EXISTS (
              SELECT 1 FROM party_members pm
              WHERE pm.party_id = p.id AND pm.member_id = $1
          )`

	startDist := sphereDistSQL("p.start_lng", "p.start_lat", "$2", "$3")
	endDist := sphereDistSQL("p.end_lng", "p.end_lat", "$4", "$5")

	switch v {
	case VariantAll:
		return s.queryParties(ctx, `
            SELECT `+partyColumns+`
            FROM parties p`+matchCond+`
            ORDER BY (`+startDist+` + `+endDist+`) ASC,
                     ABS(EXTRACT(EPOCH FROM (p.departure_at - $6))) ASC
            LIMIT $7 OFFSET $8`,
			int64(excludeMemberID),
			c.Departure.Lng, c.Departure.Lat,
			c.Destination.Lng, c.Destination.Lat,
			*c.DepartureTime, size, page*size,
		)
	case VariantNoOrigin:
		dist := sphereDistSQL("p.end_lng", "p.end_lat", "$2", "$3")
		return s.queryParties(ctx, `
            SELECT `+partyColumns+`
            FROM parties p`+matchCond+`
            ORDER BY `+dist+` ASC,
                     ABS(EXTRACT(EPOCH FROM (p.departure_at - $4))) ASC
            LIMIT $5 OFFSET $6`,
			int64(excludeMemberID),
			c.Destination.Lng, c.Destination.Lat,
			*c.DepartureTime, size, page*size,
		)
	case VariantNoDestination:
		dist := sphereDistSQL("p.start_lng", "p.start_lat", "$2", "$3")
		return s.queryParties(ctx, `
            SELECT `+partyColumns+`
            FROM parties p`+matchCond+`
            ORDER BY `+dist+` ASC,
                     ABS(EXTRACT(EPOCH FROM (p.departure_at - $4))) ASC
            LIMIT $5 OFFSET $6`,
			int64(excludeMemberID),
			c.Departure.Lng, c.Departure.Lat,
			*c.DepartureTime, size, page*size,
		)
	case VariantNoTime:
		return s.queryParties(ctx, `
            SELECT `+partyColumns+`
            FROM parties p`+matchCond+`
            ORDER BY (`+startDist+` + `+endDist+`) ASC,
                     p.departure_at ASC
            LIMIT $6 OFFSET $7`,
			int64(excludeMemberID),
			c.Departure.Lng, c.Departure.Lat,
			c.Destination.Lng, c.Destination.Lat,
			size, page*size,
		)
	default:
		return nil, fmt.Errorf("unknown search variant %d", v)
	}
}

func (s *PgStore) ReminderCandidates(ctx context.Context, windowStart, windowEnd time.Time) ([]*Party, error) {
	return s.queryParties(ctx, `
        SELECT `+partyColumns+`
        FROM parties p
        WHERE p.is_deleted = false
          AND p.reminder_sent = false
          AND p.departure_at > $1
          AND p.departure_at <= $2`,
		windowStart, windowEnd,
	)
}

// MarkReminderSent claims the reminder; a lost claim reports
// ErrReminderAlreadySent so the scheduler never double-sends.
func (s *PgStore) MarkReminderSent(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE parties SET reminder_sent = true
        WHERE id = $1 AND reminder_sent = false`,
		int64(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrReminderAlreadySent
	}
	return nil
}

func (s *PgStore) queryParties(ctx context.Context, query string, args ...any) ([]*Party, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parties []*Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, parties); err != nil {
		return nil, err
	}
	return parties, nil
}

func (s *PgStore) loadMembers(ctx context.Context, parties []*Party) error {
	if len(parties) == 0 {
		return nil
	}
	byID := make(map[types.ID]*Party, len(parties))
	ids := make([]int64, 0, len(parties))
	for _, p := range parties {
		byID[p.ID] = p
		ids = append(ids, int64(p.ID))
	}

	rows, err := s.db.Query(ctx, `
        SELECT party_id, member_id, joined_at
        FROM party_members
        WHERE party_id = ANY($1)
        ORDER BY joined_at ASC, member_id ASC`,
		ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var partyID, memberID int64
		var joinedAt time.Time
		if err := rows.Scan(&partyID, &memberID, &joinedAt); err != nil {
			return err
		}
		p := byID[types.ID(partyID)]
		if p != nil {
			p.Members = append(p.Members, Membership{MemberID: types.ID(memberID), JoinedAt: joinedAt})
		}
	}
	return rows.Err()
}

func scanParty(row pgx.Row) (*Party, error) {
	var p Party
	var hostID int64
	var startName, startAddr, endName, endAddr sql.NullString
	var startLng, startLat, endLng, endLat sql.NullFloat64
	var estimatedFare sql.NullInt64

	err := row.Scan(
		&p.ID, &p.Name, &p.Deleted, &hostID,
		&startName, &startAddr, &startLng, &startLat,
		&endName, &endAddr, &endLng, &endLat,
		&p.DepartureAt, &p.Comment, &p.CurrentCount, &p.MaxCount,
		&p.Options.SameGenderOnly, &p.Options.CostShareBeforeDropOff, &p.Options.QuietMode, &p.Options.DestinationChangeAllowed,
		&p.ReminderSent, &p.SavingsCalculated, &estimatedFare, &p.Notification,
		&p.CreatedAt, &p.Version,
	)
	if err != nil {
		return nil, err
	}

	p.HostMemberID = types.ID(hostID)
	p.StartPlace = placeFromCols(startName, startAddr, startLng, startLat)
	p.EndPlace = placeFromCols(endName, endAddr, endLng, endLat)
	if estimatedFare.Valid {
		v := estimatedFare.Int64
		p.EstimatedFare = &v
	}
	return &p, nil
}

func placeFromCols(name, addr sql.NullString, lng, lat sql.NullFloat64) *Place {
	if !lng.Valid || !lat.Valid {
		return nil
	}
	return &Place{
		Name:    name.String,
		Address: addr.String,
		Point:   types.Point{Lng: lng.Float64, Lat: lat.Float64},
	}
}

func placeNameCol(p *Place) *string {
	if p == nil {
		return nil
	}
	return &p.Name
}

func placeAddressCol(p *Place) *string {
	if p == nil {
		return nil
	}
	return &p.Address
}

func placeLng(p *Place) *float64 {
	if p == nil {
		return nil
	}
	return &p.Point.Lng
}

func placeLat(p *Place) *float64 {
	if p == nil {
		return nil
	}
	return &p.Point.Lat
}
