package family

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	netmail "net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carehub/carehub/internal/domain/access"
	"github.com/carehub/carehub/internal/platform/mail"
)

// AccessEngine is the part of the access engine the family surface relies on.
type AccessEngine interface {
	Authorize(ctx context.Context, actorID, patientID uuid.UUID, capability access.Capability) (*access.Decision, error)
	AuthorizeAccount(ctx context.Context, actorID, accountID uuid.UUID, capability access.Capability) (*access.Decision, error)
	AuthorizeOwnAccount(ctx context.Context, actorID uuid.UUID, capability access.Capability) (*access.Decision, error)
	MemberForActor(ctx context.Context, actorID uuid.UUID) (*access.Member, error)
	AddMember(ctx context.Context, m *access.Member) error
}

type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// TxRunner runs fn in one database transaction carried on ctx.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Options struct {
	InvitationTTL time.Duration
	AppBaseURL    string
}

type Service struct {
	access   AccessEngine
	patients PatientRepository
	invites  InvitationRepository
	prefs    PreferencesRepository
	mailer   Mailer
	inTx     TxRunner
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(engine AccessEngine, patients PatientRepository, invites InvitationRepository, prefs PreferencesRepository, mailer Mailer, opts Options, logger zerolog.Logger) *Service {
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = 7 * 24 * time.Hour
	}
	return &Service{
		access:   engine,
		patients: patients,
		invites:  invites,
		prefs:    prefs,
		mailer:   mailer,
		inTx:     noTx,
		opts:     opts,
		logger:   logger.With().Str("component", "family").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetTxRunner makes multi-step writes atomic.
func (s *Service) SetTxRunner(run TxRunner) {
	s.inTx = run
}

// -- Patients --

func validatePatient(in *PatientInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", access.ErrInvalid)
	}
	switch in.Kind {
	case "":
		in.Kind = KindHuman
	case KindHuman, KindPet:
	default:
		return fmt.Errorf("%w: kind must be human or pet", access.ErrInvalid)
	}
	if in.Kind == KindHuman && in.Species != nil {
		return fmt.Errorf("%w: species only applies to pets", access.ErrInvalid)
	}
	return nil
}

// CreatePatient adds a patient to the caller's household. A creator who is
// not the owner is granted the new patient so they can keep managing it.
func (s *Service) CreatePatient(ctx context.Context, actorID uuid.UUID, in PatientInput) (*Patient, error) {
	d, err := s.access.AuthorizeOwnAccount(ctx, actorID, access.CapCreatePatient)
	if err != nil {
		return nil, err
	}
	if err := validatePatient(&in); err != nil {
		return nil, err
	}
	p := &Patient{
		ID:                 uuid.New(),
		AccountID:          d.AccountID,
		Kind:               in.Kind,
		Name:               in.Name,
		BirthDate:          in.BirthDate,
		Sex:                in.Sex,
		Species:            in.Species,
		Conditions:         in.Conditions,
		DietaryPreferences: in.DietaryPreferences,
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.patients.Create(ctx, p); err != nil {
			return fmt.Errorf("create patient: %w", err)
		}
		if d.Role == access.RoleAccountOwner || d.Role == access.RoleSuperadmin {
			return nil
		}
		return s.patients.GrantToMember(ctx, d.AccountID, actorID, p.ID)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", d.AccountID.String()).Str("patient_id", p.ID.String()).Msg("patient created")
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, actorID, patientID uuid.UUID) (*Patient, error) {
	if _, err := s.access.Authorize(ctx, actorID, patientID, access.CapViewPatientProfile); err != nil {
		return nil, err
	}
	return s.patients.GetByID(ctx, patientID)
}

func (s *Service) UpdatePatient(ctx context.Context, actorID, patientID uuid.UUID, in PatientInput) (*Patient, error) {
	if _, err := s.access.Authorize(ctx, actorID, patientID, access.CapEditPatientProfile); err != nil {
		return nil, err
	}
	if err := validatePatient(&in); err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	p.Kind = in.Kind
	p.Name = in.Name
	p.BirthDate = in.BirthDate
	p.Sex = in.Sex
	p.Species = in.Species
	p.Conditions = in.Conditions
	p.DietaryPreferences = in.DietaryPreferences
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePatient soft-deletes by default. A hard delete also drops the
// patient from every member's grants, and may purge a patient that was
// already soft-deleted.
func (s *Service) DeletePatient(ctx context.Context, actorID, patientID uuid.UUID, hard bool) error {
	d, err := s.access.Authorize(ctx, actorID, patientID, access.CapDeletePatient)
	if hard && errors.Is(err, access.ErrNotFound) {
		d, err = s.authorizePurge(ctx, actorID, patientID)
	}
	if err != nil {
		return err
	}
	if hard {
		err = s.patients.HardDelete(ctx, patientID)
	} else {
		err = s.patients.SoftDelete(ctx, patientID)
	}
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("account_id", d.AccountID.String()).
		Str("patient_id", patientID.String()).
		Bool("hard", hard).
		Msg("patient deleted")
	return nil
}

// authorizePurge applies the delete check to a soft-deleted patient. Any
// failure to see the patient is reported as ErrNotFound.
func (s *Service) authorizePurge(ctx context.Context, actorID, patientID uuid.UUID) (*access.Decision, error) {
	p, err := s.patients.GetDeleted(ctx, patientID)
	if err != nil {
		return nil, err
	}
	d, err := s.access.AuthorizeAccount(ctx, actorID, p.AccountID, access.CapDeletePatient)
	if err != nil {
		return nil, err
	}
	if d.Role == access.RoleAccountOwner || d.Role == access.RoleSuperadmin {
		return d, nil
	}
	member, err := s.access.MemberForActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if member.AccountID != p.AccountID || !member.CanAccessPatient(p.ID) {
		return nil, access.ErrNotFound
	}
	return d, nil
}

// ListPatients returns the patients of the caller's household that the
// caller may see.
func (s *Service) ListPatients(ctx context.Context, actorID uuid.UUID) ([]*Patient, error) {
	d, err := s.access.AuthorizeOwnAccount(ctx, actorID, access.CapViewPatientProfile)
	if err != nil {
		return nil, err
	}
	member, err := s.access.MemberForActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	all, err := s.patients.ListByAccount(ctx, d.AccountID)
	if err != nil {
		return nil, err
	}
	out := make([]*Patient, 0, len(all))
	for _, p := range all {
		if member.CanAccessPatient(p.ID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// -- Invitations --

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Invite issues an invitation to join the caller's household with role.
// The caller needs manageMembers and must outrank role; patientIDs must
// belong to the household.
func (s *Service) Invite(ctx context.Context, actorID uuid.UUID, in InviteInput) (*Invitation, error) {
	d, err := s.access.AuthorizeOwnAccount(ctx, actorID, access.CapManageMembers)
	if err != nil {
		return nil, err
	}
	role, err := access.ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	if !access.CanGrant(d.Role, role) {
		return nil, fmt.Errorf("%w: %s cannot invite a %s", access.ErrForbidden, d.Role, role)
	}
	addr, err := netmail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid email", access.ErrInvalid)
	}
	patientIDs, err := s.householdPatients(ctx, d.AccountID, in.PatientIDs)
	if err != nil {
		return nil, err
	}
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	inv := &Invitation{
		ID:         uuid.New(),
		AccountID:  d.AccountID,
		Email:      strings.ToLower(addr.Address),
		Role:       role,
		PatientIDs: patientIDs,
		Token:      token,
		InvitedBy:  actorID,
		ExpiresAt:  s.now().Add(s.opts.InvitationTTL),
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.invites.Create(ctx, inv); err != nil {
			return fmt.Errorf("create invitation: %w", err)
		}
		if s.mailer == nil {
			return nil
		}
		if err := s.mailer.Send(ctx, s.invitationMessage(inv)); err != nil {
			return fmt.Errorf("send invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("account_id", inv.AccountID.String()).
		Str("invitation_id", inv.ID.String()).
		Str("role", string(role)).
		Msg("invitation sent")
	return inv, nil
}

func (s *Service) householdPatients(ctx context.Context, accountID uuid.UUID, requested []uuid.UUID) ([]uuid.UUID, error) {
	if len(requested) == 0 {
		return []uuid.UUID{}, nil
	}
	all, err := s.patients.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	inAccount := make(map[uuid.UUID]bool, len(all))
	for _, p := range all {
		inAccount[p.ID] = true
	}
	seen := make(map[uuid.UUID]bool, len(requested))
	out := make([]uuid.UUID, 0, len(requested))
	for _, id := range requested {
		if !inAccount[id] {
			return nil, access.ErrNotFound
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Service) invitationMessage(inv *Invitation) mail.Message {
	link := fmt.Sprintf("%s/invitations/accept?token=%s", strings.TrimRight(s.opts.AppBaseURL, "/"), url.QueryEscape(inv.Token))
	role := strings.ReplaceAll(string(inv.Role), "_", " ")
	expires := inv.ExpiresAt.Format("January 2, 2006")
	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<h2>You're invited to a CareHub household</h2>
	<p>You have been invited to join as a <strong>%s</strong>.</p>
	<p><a href="%s">Accept the invitation</a></p>
	<p style="font-size: 12px; color: #666;">This link expires on %s.</p>
</body>
</html>
`, html.EscapeString(role), html.EscapeString(link), expires)
	text := fmt.Sprintf("You have been invited to join a CareHub household as a %s.\n\nAccept: %s\n\nThis link expires on %s.\n", role, link, expires)
	return mail.Message{To: inv.Email, Subject: "You're invited to CareHub", HTML: htmlBody, Text: text}
}

// AcceptInvitation joins actorID to the invitation's household. Unknown
// tokens are ErrNotFound; expired or used ones are ErrInvalid.
func (s *Service) AcceptInvitation(ctx context.Context, actorID uuid.UUID, token string) (*access.Member, error) {
	if actorID == uuid.Nil {
		return nil, access.ErrUnauthorized
	}
	inv, err := s.invites.GetByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !inv.Pending(now) {
		return nil, fmt.Errorf("%w: invitation expired or already used", access.ErrInvalid)
	}
	member := &access.Member{
		AccountID:  inv.AccountID,
		ActorID:    actorID,
		Role:       inv.Role,
		PatientIDs: inv.PatientIDs,
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.invites.MarkAccepted(ctx, inv.ID, actorID, now); err != nil {
			return err
		}
		return s.access.AddMember(ctx, member)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("account_id", inv.AccountID.String()).
		Str("actor_id", actorID.String()).
		Str("role", string(inv.Role)).
		Msg("invitation accepted")
	return member, nil
}

func (s *Service) ListInvitations(ctx context.Context, actorID uuid.UUID) ([]*Invitation, error) {
	d, err := s.access.AuthorizeOwnAccount(ctx, actorID, access.CapManageMembers)
	if err != nil {
		return nil, err
	}
	return s.invites.ListPending(ctx, d.AccountID, s.now())
}

func (s *Service) RevokeInvitation(ctx context.Context, actorID, invitationID uuid.UUID) error {
	d, err := s.access.AuthorizeOwnAccount(ctx, actorID, access.CapManageMembers)
	if err != nil {
		return err
	}
	return s.invites.Delete(ctx, d.AccountID, invitationID)
}

// -- Preferences --

func (s *Service) Preferences(ctx context.Context, actorID uuid.UUID) (*Preferences, error) {
	if actorID == uuid.Nil {
		return nil, access.ErrUnauthorized
	}
	p, err := s.prefs.Get(ctx, actorID)
	if errors.Is(err, access.ErrNotFound) {
		return DefaultPreferences(actorID), nil
	}
	return p, err
}

func (s *Service) UpdatePreferences(ctx context.Context, actorID uuid.UUID, p *Preferences) (*Preferences, error) {
	if actorID == uuid.Nil {
		return nil, access.ErrUnauthorized
	}
	switch p.WeightUnit {
	case "":
		p.WeightUnit = WeightKg
	case WeightKg, WeightLb:
	default:
		return nil, fmt.Errorf("%w: weight_unit must be kg or lb", access.ErrInvalid)
	}
	p.ActorID = actorID
	if err := s.prefs.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
