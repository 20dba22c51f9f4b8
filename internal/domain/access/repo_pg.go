package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carehub/carehub/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (r *storePG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Actors --

func (r *storePG) GetActor(ctx context.Context, id uuid.UUID) (*Actor, error) {
	var a Actor
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, display_name, email, phone, suspended, created_at
		FROM actors WHERE id = $1`, id).
		Scan(&a.ID, &a.DisplayName, &a.Email, &a.Phone, &a.Suspended, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *storePG) UpsertActor(ctx context.Context, a *Actor) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO actors (id, display_name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name,
			email = EXCLUDED.email, phone = EXCLUDED.phone
		RETURNING suspended, created_at`,
		a.ID, a.DisplayName, a.Email, a.Phone).Scan(&a.Suspended, &a.CreatedAt)
}

func (r *storePG) SetSuspended(ctx context.Context, actorID uuid.UUID, suspended bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE actors SET suspended = $2 WHERE id = $1`, actorID, suspended)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *storePG) IsSuperadmin(ctx context.Context, actorID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM superadmins WHERE actor_id = $1)`, actorID).Scan(&ok)
	return ok, err
}

func (r *storePG) SetSuperadmin(ctx context.Context, actorID uuid.UUID, granted bool) error {
	var err error
	if granted {
		_, err = r.conn(ctx).Exec(ctx,
			`INSERT INTO superadmins (actor_id) VALUES ($1) ON CONFLICT DO NOTHING`, actorID)
	} else {
		_, err = r.conn(ctx).Exec(ctx, `DELETE FROM superadmins WHERE actor_id = $1`, actorID)
	}
	return err
}

// -- Accounts --

const accountCols = `a.id, a.name, a.owner_actor_id, a.created_at, a.updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Name, &a.OwnerActorID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *storePG) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts a WHERE a.id = $1`, id))
}

func (r *storePG) AccountForActor(ctx context.Context, actorID uuid.UUID) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `
		SELECT `+accountCols+`
		FROM accounts a JOIN family_members m ON m.account_id = a.id
		WHERE m.actor_id = $1
		ORDER BY m.created_at
		LIMIT 1`, actorID))
}

func (r *storePG) CreateAccount(ctx context.Context, a *Account, owner *Member) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO accounts (id, name, owner_actor_id) VALUES ($1, $2, $3)
			RETURNING created_at, updated_at`,
			a.ID, a.Name, a.OwnerActorID).Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		return r.AddMember(ctx, owner)
	})
}

func (r *storePG) PatientAccount(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	var accountID uuid.UUID
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT account_id FROM patients WHERE id = $1 AND deleted_at IS NULL`, patientID).Scan(&accountID)
	if err != nil {
		return uuid.Nil, notFound(err)
	}
	return accountID, nil
}

// -- Members --

const memberCols = `id, account_id, actor_id, role, patient_ids, relationship, profession, availability, created_at, updated_at`

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.AccountID, &m.ActorID, &m.Role, &m.PatientIDs,
		&m.Relationship, &m.Profession, &m.Availability, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *storePG) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return scanMember(r.conn(ctx).QueryRow(ctx, `SELECT `+memberCols+` FROM family_members WHERE id = $1`, id))
}

func (r *storePG) GetMemberByActor(ctx context.Context, accountID, actorID uuid.UUID) (*Member, error) {
	return scanMember(r.conn(ctx).QueryRow(ctx,
		`SELECT `+memberCols+` FROM family_members WHERE account_id = $1 AND actor_id = $2`, accountID, actorID))
}

func (r *storePG) ListMembers(ctx context.Context, accountID uuid.UUID) ([]*Member, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+memberCols+` FROM family_members WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *storePG) AddMember(ctx context.Context, m *Member) error {
	if m.PatientIDs == nil {
		m.PatientIDs = []uuid.UUID{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO family_members (id, account_id, actor_id, role, patient_ids, relationship, profession, availability)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		m.ID, m.AccountID, m.ActorID, m.Role, m.PatientIDs, m.Relationship, m.Profession, m.Availability,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *storePG) UpdateMemberRole(ctx context.Context, memberID uuid.UUID, role Role) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE family_members SET role = $2, updated_at = NOW() WHERE id = $1 AND role <> 'account_owner'`,
		memberID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *storePG) UpdateMemberPatients(ctx context.Context, memberID uuid.UUID, patientIDs []uuid.UUID) error {
	if patientIDs == nil {
		patientIDs = []uuid.UUID{}
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE family_members SET patient_ids = $2, updated_at = NOW() WHERE id = $1`, memberID, patientIDs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *storePG) DeleteMember(ctx context.Context, memberID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM family_members WHERE id = $1 AND role <> 'account_owner'`, memberID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *storePG) SwapOwner(ctx context.Context, accountID, currentOwnerActorID, newOwnerMemberID uuid.UUID) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		tag, err := q.Exec(ctx, `
			UPDATE accounts SET
				owner_actor_id = (SELECT actor_id FROM family_members WHERE id = $3 AND account_id = $1),
				updated_at = NOW()
			WHERE id = $1 AND owner_actor_id = $2
			  AND EXISTS (SELECT 1 FROM family_members WHERE id = $3 AND account_id = $1)`,
			accountID, currentOwnerActorID, newOwnerMemberID)
		if err != nil {
			return fmt.Errorf("move account owner: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOwnerChanged
		}

		// Demote before promoting; one owner row per account is a unique index.
		tag, err = q.Exec(ctx, `
			UPDATE family_members SET role = 'co_admin', updated_at = NOW()
			WHERE account_id = $1 AND actor_id = $2 AND role = 'account_owner'`,
			accountID, currentOwnerActorID)
		if err != nil {
			return fmt.Errorf("demote owner: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrOwnerChanged
		}

		tag, err = q.Exec(ctx, `
			UPDATE family_members SET role = 'account_owner', updated_at = NOW()
			WHERE id = $1 AND account_id = $2`,
			newOwnerMemberID, accountID)
		if err != nil {
			return fmt.Errorf("promote member: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrNotFound
		}
		return nil
	})
}
