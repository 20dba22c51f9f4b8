package family

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carehub/carehub/internal/domain/access"
	"github.com/carehub/carehub/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func connFor(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return access.ErrNotFound
	}
	return err
}

func strs(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func ids(s []uuid.UUID) []uuid.UUID {
	if s == nil {
		return []uuid.UUID{}
	}
	return s
}

// -- Patients --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) querier {
	return connFor(ctx, r.pool)
}

const patientCols = `id, account_id, kind, name, birth_date, sex, species, conditions, dietary_preferences,
	deleted_at, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.AccountID, &p.Kind, &p.Name, &p.BirthDate, &p.Sex, &p.Species,
		&p.Conditions, &p.DietaryPreferences, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, account_id, kind, name, birth_date, sex, species, conditions, dietary_preferences)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.AccountID, p.Kind, p.Name, p.BirthDate, p.Sex, p.Species, strs(p.Conditions), strs(p.DietaryPreferences),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *patientRepoPG) GetDeleted(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1 AND deleted_at IS NOT NULL`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET kind = $2, name = $3, birth_date = $4, sex = $5, species = $6,
			conditions = $7, dietary_preferences = $8, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`,
		p.ID, p.Kind, p.Name, p.BirthDate, p.Sex, p.Species, strs(p.Conditions), strs(p.DietaryPreferences),
	).Scan(&p.UpdatedAt)
	return notFound(err)
}

func (r *patientRepoPG) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE account_id = $1 AND deleted_at IS NULL
		ORDER BY name`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *patientRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) HardDelete(ctx context.Context, id uuid.UUID) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		if _, err := q.Exec(ctx,
			`UPDATE family_members SET patient_ids = array_remove(patient_ids, $1), updated_at = NOW()
			 WHERE $1 = ANY(patient_ids)`, id); err != nil {
			return err
		}
		tag, err := q.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return access.ErrNotFound
		}
		return nil
	})
}

func (r *patientRepoPG) GrantToMember(ctx context.Context, accountID, actorID, patientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE family_members SET patient_ids = array_append(patient_ids, $3), updated_at = NOW()
		WHERE account_id = $1 AND actor_id = $2 AND role <> 'account_owner'
			AND NOT ($3 = ANY(patient_ids))`, accountID, actorID, patientID)
	return err
}

// -- Invitations --

type invitationRepoPG struct {
	pool *pgxpool.Pool
}

func NewInvitationRepo(pool *pgxpool.Pool) InvitationRepository {
	return &invitationRepoPG{pool: pool}
}

func (r *invitationRepoPG) conn(ctx context.Context) querier {
	return connFor(ctx, r.pool)
}

const invitationCols = `id, account_id, email, role, patient_ids, token, invited_by, expires_at,
	accepted_at, accepted_by, created_at`

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var i Invitation
	err := row.Scan(&i.ID, &i.AccountID, &i.Email, &i.Role, &i.PatientIDs, &i.Token, &i.InvitedBy,
		&i.ExpiresAt, &i.AcceptedAt, &i.AcceptedBy, &i.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

func (r *invitationRepoPG) Create(ctx context.Context, inv *Invitation) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invitations (id, account_id, email, role, patient_ids, token, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		inv.ID, inv.AccountID, inv.Email, inv.Role, ids(inv.PatientIDs), inv.Token, inv.InvitedBy, inv.ExpiresAt,
	).Scan(&inv.CreatedAt)
}

func (r *invitationRepoPG) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	return scanInvitation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invitationCols+` FROM invitations WHERE token = $1`, token))
}

func (r *invitationRepoPG) ListPending(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*Invitation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+invitationCols+` FROM invitations
		WHERE account_id = $1 AND accepted_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC`, accountID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *invitationRepoPG) MarkAccepted(ctx context.Context, id, actorID uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invitations SET accepted_at = $3, accepted_by = $2
		WHERE id = $1 AND accepted_at IS NULL`, id, actorID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return access.ErrInvalid
	}
	return nil
}

func (r *invitationRepoPG) Delete(ctx context.Context, accountID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM invitations WHERE id = $1 AND account_id = $2 AND accepted_at IS NULL`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return access.ErrNotFound
	}
	return nil
}

// -- Preferences --

type preferencesRepoPG struct {
	pool *pgxpool.Pool
}

func NewPreferencesRepo(pool *pgxpool.Pool) PreferencesRepository {
	return &preferencesRepoPG{pool: pool}
}

func (r *preferencesRepoPG) Get(ctx context.Context, actorID uuid.UUID) (*Preferences, error) {
	var p Preferences
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT actor_id, step_tracking_enabled, weight_unit, updated_at
		FROM actor_preferences WHERE actor_id = $1`, actorID,
	).Scan(&p.ActorID, &p.StepTrackingEnabled, &p.WeightUnit, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *preferencesRepoPG) Upsert(ctx context.Context, p *Preferences) error {
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO actor_preferences (actor_id, step_tracking_enabled, weight_unit)
		VALUES ($1, $2, $3)
		ON CONFLICT (actor_id) DO UPDATE
			SET step_tracking_enabled = EXCLUDED.step_tracking_enabled,
				weight_unit = EXCLUDED.weight_unit,
				updated_at = NOW()
		RETURNING updated_at`,
		p.ActorID, p.StepTrackingEnabled, p.WeightUnit,
	).Scan(&p.UpdatedAt)
}
