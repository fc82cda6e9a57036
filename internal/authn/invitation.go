package authn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/identity"
	"github.com/lavente-care/ciam/internal/store"
	"github.com/lavente-care/ciam/internal/tokencodec"
)

const defaultInvitationTTL = 7 * 24 * time.Hour

// Invite sends a tenant-membership invitation to an email address. The
// invitation is addressed by email, not user id, so it works for people
// with no account yet.
func (s *Service) Invite(ctx context.Context, tenantID uuid.UUID, email, role string) (store.Invitation, error) {
	email = identity.NormalizeEmail(email)
	raw, hash, err := tokencodec.GenerateOpaqueRefreshToken()
	if err != nil {
		return store.Invitation{}, fmt.Errorf("authn: generating invitation token: %w", err)
	}

	inv, err := s.db.CreateInvitation(ctx, uuid.New(), email, tenantID, role, hash, time.Now().Add(defaultInvitationTTL))
	if err != nil {
		return store.Invitation{}, fmt.Errorf("authn: creating invitation: %w", err)
	}

	if s.mail != nil {
		inviteURL := s.appURL + "/invitations/accept?token=" + raw
		_ = s.mail.SendInvitation(ctx, email, inviteURL)
	}

	s.audit.Log(ctx, audit.Event{Type: "tenant.invitation.sent", Category: audit.CategoryTenantManagement, TenantID: &tenantID,
		Description: fmt.Sprintf("invited %s as %s", email, role)})
	return inv, nil
}

// AcceptInvitationInput carries either an existing-user acceptance (they're
// already logged in) or the credentials for a brand new account created at
// acceptance time.
type AcceptInvitationInput struct {
	Token    string
	Password string // only used when no account exists yet for the invited email
	FullName string
}

// AcceptInvitation consumes the invitation token, creating the account if
// the invited address has never registered, then adds the tenant
// membership and logs the invitee straight in.
func (s *Service) AcceptInvitation(ctx context.Context, in AcceptInvitationInput, ip, userAgent string) (LoginResult, error) {
	hash := tokencodec.HashRefreshToken(in.Token)
	inv, err := s.db.GetInvitationByTokenHash(ctx, hash)
	if err != nil {
		return LoginResult{}, ErrTokenInvalid
	}

	user, err := s.db.GetUserByEmail(ctx, inv.Email)
	if err != nil {
		if in.Password == "" {
			return LoginResult{}, ErrTokenInvalid
		}
		if err := ValidatePassword(in.Password, s.policy); err != nil {
			return LoginResult{}, err
		}
		passwordHash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return LoginResult{}, fmt.Errorf("authn: hashing password: %w", err)
		}
		var fullName *string
		if in.FullName != "" {
			fullName = &in.FullName
		}
		user, err = s.db.CreateUser(ctx, store.CreateUserParams{
			ID:           uuid.New(),
			Email:        inv.Email,
			PasswordHash: &passwordHash,
			FullName:     fullName,
		})
		if err != nil {
			return LoginResult{}, fmt.Errorf("authn: creating invited user: %w", err)
		}
		// An invitation link proves receipt of the invited mailbox, so the
		// account starts verified rather than sending a second email.
		_ = s.db.MarkEmailVerified(ctx, user.ID)
	}

	ok, err := s.db.MarkInvitationAccepted(ctx, inv.ID)
	if err != nil || !ok {
		return LoginResult{}, ErrTokenInvalid
	}

	if _, err := s.db.CreateMembership(ctx, user.ID, inv.TenantID, inv.Role); err != nil {
		return LoginResult{}, fmt.Errorf("authn: creating membership: %w", err)
	}
	if user.DefaultTenantID == nil {
		_ = s.db.SetDefaultTenant(ctx, user.ID, &inv.TenantID)
		user.DefaultTenantID = &inv.TenantID
	}

	s.audit.Log(ctx, audit.Event{Type: "tenant.invitation.accepted", Category: audit.CategoryTenantManagement, TenantID: &inv.TenantID, UserID: &user.ID})

	return s.issueSession(ctx, user, ip, userAgent, false)
}

// LinkOrCreateFederatedUser resolves an external identity-provider subject
// to a local account, creating one on first sign-in (JIT provisioning).
// Account matching by email trusts the upstream provider's verified-email
// claim; unverified upstream emails never merge into an existing account.
func (s *Service) LinkOrCreateFederatedUser(ctx context.Context, connectionID uuid.UUID, subjectID, email, fullName string, emailVerified bool) (store.User, error) {
	if userID, err := s.db.FindUserByIdentity(ctx, connectionID, subjectID); err == nil {
		return s.db.GetUserByID(ctx, userID)
	}

	email = identity.NormalizeEmail(email)
	user, err := s.db.GetUserByEmail(ctx, email)
	if err == nil && !emailVerified {
		// An attacker who registers an unverified upstream account with a
		// victim's address must not inherit the victim's local account.
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		var namePtr *string
		if fullName != "" {
			namePtr = &fullName
		}
		user, err = s.db.CreateUser(ctx, store.CreateUserParams{
			ID:       uuid.New(),
			Email:    email,
			FullName: namePtr,
		})
		if err != nil {
			return store.User{}, fmt.Errorf("authn: creating federated user: %w", err)
		}
		if emailVerified {
			_ = s.db.MarkEmailVerified(ctx, user.ID)
		}
	}

	if err := s.db.LinkUserIdentity(ctx, user.ID, connectionID, subjectID); err != nil {
		return store.User{}, fmt.Errorf("authn: linking identity: %w", err)
	}
	s.audit.Log(ctx, audit.Event{Type: "auth.federated_login.linked", Category: audit.CategoryAuthentication, UserID: &user.ID})
	return user, nil
}

// CompleteFederatedLogin links or provisions the local account for an
// upstream identity-provider subject and issues a session for it, the
// federation-flow counterpart to Login. A disabled account is rejected the
// same as a disabled password login.
func (s *Service) CompleteFederatedLogin(ctx context.Context, connectionID uuid.UUID, subjectID, email, fullName string, emailVerified bool, ip, userAgent string) (LoginResult, error) {
	user, err := s.LinkOrCreateFederatedUser(ctx, connectionID, subjectID, email, fullName, emailVerified)
	if err != nil {
		return LoginResult{}, err
	}
	if !user.IsActive {
		return LoginResult{}, ErrAccountDisabled
	}
	return s.issueSession(ctx, user, ip, userAgent, true)
}
