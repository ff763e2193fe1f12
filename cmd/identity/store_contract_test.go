package identity

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// runStoreContract exercises behavior every Store must share. userID keeps
// emails and user ids distinct when the backing store outlives the test.
func runStoreContract(t *testing.T, s Store, userID int64) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	email := fmt.Sprintf("Tech.%d@Example.com", userID)
	notes := "  night shift  "

	created, err := s.Create(ctx, Credential{
		Email:    "  " + email + " ",
		Password: "secret-1",
		UserID:   userID,
		UserType: UserTechnician,
		Active:   true,
		Notes:    &notes,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("Create: expected generated id")
	}
	if created.Email != email {
		t.Fatalf("Create: email=%q want %q", created.Email, email)
	}
	if created.Notes == nil || *created.Notes != "night shift" {
		t.Fatalf("Create: notes=%v want trimmed", created.Notes)
	}

	// Exact, case-sensitive match.
	got, ok, err := s.FindByEmail(ctx, email)
	if err != nil || !ok {
		t.Fatalf("FindByEmail: ok=%v err=%v", ok, err)
	}
	if got.ID != created.ID || got.UserID != userID || got.UserType != UserTechnician || !got.Active {
		t.Fatalf("FindByEmail: unexpected credential %+v", got)
	}
	if _, ok, err := s.FindByEmail(ctx, fmt.Sprintf("tech.%d@example.com", userID)); err != nil || ok {
		t.Fatalf("FindByEmail lower-case: ok=%v err=%v (want miss)", ok, err)
	}

	exists, err := s.ExistsByEmail(ctx, email)
	if err != nil || !exists {
		t.Fatalf("ExistsByEmail: exists=%v err=%v", exists, err)
	}

	_, err = s.Create(ctx, Credential{Email: email, Password: "other", UserID: userID + 1, Active: true})
	if !IsDuplicateEmail(err) {
		t.Fatalf("Create duplicate: expected ErrDuplicateEmail, got %v", err)
	}
	if !IsConflict(err) {
		t.Fatalf("Create duplicate: expected ConflictError, got %T", err)
	}

	if _, err := s.Create(ctx, Credential{Email: " ", Password: "x"}); !IsInvalidInput(err) {
		t.Fatalf("Create blank email: expected invalid input, got %v", err)
	}

	byID, ok, err := s.GetByID(ctx, created.ID)
	if err != nil || !ok || byID.UserID != userID {
		t.Fatalf("GetByID: ok=%v err=%v user=%d", ok, err, byID.UserID)
	}

	if err := s.UpdatePassword(ctx, created.ID, "secret-2"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if err := s.SetActive(ctx, created.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if err := s.UpdateNotes(ctx, created.ID, nil); err != nil {
		t.Fatalf("UpdateNotes: %v", err)
	}
	loginAt := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	if err := s.RecordLogin(ctx, created.ID, loginAt); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}

	got, ok, err = s.GetByID(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("GetByID: ok=%v err=%v", ok, err)
	}
	if got.Password != "secret-2" || got.Active || got.Notes != nil {
		t.Fatalf("GetByID after updates: %+v", got)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(loginAt) {
		t.Fatalf("GetByID: last_login_at=%v want %v", got.LastLoginAt, loginAt)
	}

	if err := s.SetActive(ctx, "missing-id", true); !IsNotFound(err) {
		t.Fatalf("SetActive missing: expected not found, got %v", err)
	}
	if _, ok, err := s.GetByID(ctx, "missing-id"); err != nil || ok {
		t.Fatalf("GetByID missing: ok=%v err=%v", ok, err)
	}

	ut := UserTechnician
	list, err := s.List(ctx, &ut)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, c := range list {
		if c.UserType != UserTechnician {
			t.Fatalf("List(TECHNICIAN) returned %s", c.UserType)
		}
		if c.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("List(TECHNICIAN) missing created credential")
	}
}
