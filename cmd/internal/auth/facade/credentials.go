package facade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hfauth/cmd/identity"
	"hfauth/cmd/internal/auth/session"
	"hfauth/cmd/internal/auth/token"
	"hfauth/cmd/internal/events"
	"hfauth/cmd/security/password"
)

// RegisterInput describes a new credential.
type RegisterInput struct {
	Email    string
	Password string
	UserID   int64
	UserType identity.UserType
	Notes    *string
}

// Register stores a new credential. The password is hashed with the
// configured hasher and checked against the password policy.
func (s *Service) Register(ctx context.Context, in RegisterInput) (identity.Credential, error) {
	email := identity.NormalizeEmail(in.Email)
	switch {
	case email == "":
		return identity.Credential{}, invalidInput("email is required")
	case !strings.Contains(email, "@"):
		return identity.Credential{}, invalidInput("email is malformed")
	case in.Password == "":
		return identity.Credential{}, invalidInput("password is required")
	case in.UserID <= 0:
		return identity.Credential{}, invalidInput("user_id must be positive")
	}
	if in.UserType == "" {
		in.UserType = identity.UserClient
	}
	if !in.UserType.Valid() {
		return identity.Credential{}, invalidInput("unknown user_type")
	}
	if err := s.policy.Validate(in.Password); err != nil {
		return identity.Credential{}, invalidInput(policyReason(err))
	}

	exists, err := s.creds.ExistsByEmail(ctx, email)
	if err != nil {
		return identity.Credential{}, err
	}
	if exists {
		return identity.Credential{}, ErrDuplicateEmail
	}

	stored, err := s.hasher.Hash(in.Password)
	if err != nil {
		return identity.Credential{}, fmt.Errorf("facade.Register: hash: %w", err)
	}

	c, err := s.creds.Create(ctx, identity.Credential{
		Email:    email,
		Password: stored,
		UserID:   in.UserID,
		UserType: in.UserType,
		Active:   true,
		Notes:    in.Notes,
	})
	if err != nil {
		// A concurrent registration can still win the race to the unique index.
		if identity.IsDuplicateEmail(err) {
			return identity.Credential{}, ErrDuplicateEmail
		}
		return identity.Credential{}, err
	}

	s.log.Info("auth.register.ok", "credential_id", c.ID, "user_id", c.UserID, "user_type", string(c.UserType))
	c.Password = ""
	return c, nil
}

// GetCredential returns a credential by id, without its password.
func (s *Service) GetCredential(ctx context.Context, id string) (identity.Credential, error) {
	c, ok, err := s.creds.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return identity.Credential{}, err
	}
	if !ok {
		return identity.Credential{}, ErrNotFound
	}
	c.Password = ""
	return c, nil
}

// ListCredentials lists credentials, optionally filtered by user type.
func (s *Service) ListCredentials(ctx context.Context, userType *identity.UserType) ([]identity.Credential, error) {
	if userType != nil && !userType.Valid() {
		return nil, invalidInput("unknown user_type")
	}
	list, err := s.creds.List(ctx, userType)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Password = ""
	}
	return list, nil
}

// UpdateCredentialInput carries the optional fields of UpdateCredential.
type UpdateCredentialInput struct {
	Notes  *string
	Active *bool
}

// UpdateCredential changes notes and/or the active flag. Disabling a
// credential also signs its user out everywhere.
func (s *Service) UpdateCredential(ctx context.Context, id string, in UpdateCredentialInput) (identity.Credential, error) {
	if in.Notes == nil && in.Active == nil {
		return identity.Credential{}, invalidInput("nothing to update")
	}

	c, err := s.GetCredential(ctx, id)
	if err != nil {
		return identity.Credential{}, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if in.Notes != nil {
			if err := s.creds.UpdateNotes(ctx, c.ID, in.Notes); err != nil {
				return err
			}
		}
		if in.Active != nil {
			if err := s.creds.SetActive(ctx, c.ID, *in.Active); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return identity.Credential{}, mapNotFound(err)
	}

	if in.Active != nil && !*in.Active && c.Active {
		if _, err := s.CloseAllSessions(ctx, c.UserID); err != nil {
			s.log.Warn("auth.credential.disable.signout.fail", "credential_id", c.ID, "err", err)
		}
	}

	s.log.Info("auth.credential.update.ok", "credential_id", c.ID)
	return s.GetCredential(ctx, c.ID)
}

// ChangePassword replaces a credential's password (administrative path).
func (s *Service) ChangePassword(ctx context.Context, id, plain string) error {
	if err := s.policy.Validate(plain); err != nil {
		return invalidInput(policyReason(err))
	}
	stored, err := s.hasher.Hash(plain)
	if err != nil {
		return fmt.Errorf("facade.ChangePassword: hash: %w", err)
	}
	return mapNotFound(s.creds.UpdatePassword(ctx, strings.TrimSpace(id), stored))
}

// RequestPasswordReset issues a RESET_PASSWORD token for an active
// credential and hands it to the notifier. Unknown or disabled emails succeed
// silently so callers cannot enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	c, found, err := s.creds.FindByEmail(ctx, identity.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if !found || !c.Active {
		s.log.Info("auth.reset.request.ignored")
		return nil
	}

	t, err := s.tokens.IssueReset(ctx, c.UserID, c.ID)
	if err != nil {
		return err
	}
	if err := s.notifier.NotifyPasswordReset(ctx, c, t.Secret, t.ExpiresAt); err != nil {
		s.log.Error("auth.reset.notify.fail", "credential_id", c.ID, "err", err)
		return err
	}
	s.log.Info("auth.reset.request.ok", "credential_id", c.ID, "user_id", c.UserID)
	return nil
}

// ResetPassword consumes a RESET_PASSWORD token: it sets the new password,
// revokes the reset token, and signs the user out everywhere.
func (s *Service) ResetPassword(ctx context.Context, secret, plain string) error {
	secret = StripBearer(secret)

	t, ok, err := s.tokens.Lookup(ctx, secret)
	if err != nil {
		return err
	}
	if !ok || t.Kind != token.KindReset {
		return ErrInvalidToken
	}
	if err := s.policy.Validate(plain); err != nil {
		return invalidInput(policyReason(err))
	}

	c, found, err := s.creds.GetByID(ctx, t.CredentialID)
	if err != nil {
		return err
	}
	if !found || !c.Active || c.UserID != t.UserID {
		return ErrInvalidToken
	}

	stored, err := s.hasher.Hash(plain)
	if err != nil {
		return fmt.Errorf("facade.ResetPassword: hash: %w", err)
	}

	var closed []session.Session
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.creds.UpdatePassword(ctx, c.ID, stored); err != nil {
			return err
		}
		if _, _, err := s.tokens.Revoke(ctx, secret); err != nil {
			return err
		}
		if _, err := s.tokens.RevokeAllForUser(ctx, c.UserID); err != nil {
			return err
		}
		var err error
		closed, err = s.sessions.CloseAllForUser(ctx, c.UserID)
		return err
	})
	if err != nil {
		s.log.Error("auth.reset.fail", "credential_id", c.ID, "err", err)
		return err
	}

	s.publish([]events.Event{{
		Type:   events.TypeSessionsRevoked,
		UserID: c.UserID,
		Count:  len(closed),
		Reason: "password_reset",
		At:     s.tokens.Now(),
	}})
	s.log.Info("auth.reset.ok", "credential_id", c.ID, "user_id", c.UserID)
	return nil
}

func policyReason(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "password too short"
	case errors.Is(err, password.ErrPasswordTooLong):
		return "password too long"
	case errors.Is(err, password.ErrWeakPassword):
		return "password too weak"
	default:
		return "password rejected"
	}
}

func mapNotFound(err error) error {
	if identity.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}
