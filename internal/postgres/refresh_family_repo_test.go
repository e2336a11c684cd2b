package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/test"
)

func TestRefreshFamilyRepo_AdvanceIsCompareAndSet(t *testing.T) {
	db := test.NewPGDB(t)
	c := TestClient(db)

	ctx := context.Background()
	principal := testPrincipal("jane", "jane@example.com")
	if err := c.Principal().Create(ctx, principal); err != nil {
		t.Fatal("failed to create principal:", err)
	}

	family := &auth.RefreshFamily{
		ID:          uuid.NewString(),
		PrincipalID: principal.ID,
		SessionID:   "session-id",
	}
	if err := c.RefreshFamily().Create(ctx, family); err != nil {
		t.Fatal("failed to create family:", err)
	}
	if family.Version != 1 {
		t.Fatalf("incorrect initial version, want 1 got %d", family.Version)
	}

	version, err := c.RefreshFamily().Advance(ctx, family.ID, 1)
	if err != nil {
		t.Fatal("failed to advance family:", err)
	}
	if version != 2 {
		t.Errorf("incorrect version, want 2 got %d", version)
	}

	// A replayed presentation of version 1 must lose the swap.
	_, err = c.RefreshFamily().Advance(ctx, family.ID, 1)
	if code := auth.ErrorCode(err); code != auth.EConflict {
		t.Errorf("incorrect error code, want %s got %s", auth.EConflict, code)
	}
}

func TestRefreshFamilyRepo_RevokeBySession(t *testing.T) {
	db := test.NewPGDB(t)
	c := TestClient(db)

	ctx := context.Background()
	principal := testPrincipal("jane", "jane@example.com")
	if err := c.Principal().Create(ctx, principal); err != nil {
		t.Fatal("failed to create principal:", err)
	}

	for _, sessionID := range []string{"session-a", "session-a", "session-b"} {
		family := &auth.RefreshFamily{
			ID:          uuid.NewString(),
			PrincipalID: principal.ID,
			SessionID:   sessionID,
		}
		if err := c.RefreshFamily().Create(ctx, family); err != nil {
			t.Fatal("failed to create family:", err)
		}
	}

	revoked, err := c.RefreshFamily().RevokeBySession(ctx, "session-a", time.Now())
	if err != nil {
		t.Fatal("failed to revoke families:", err)
	}
	if revoked != 2 {
		t.Errorf("incorrect revoked count, want 2 got %d", revoked)
	}

	// Advancing a revoked family is a conflict.
	_, err = c.RefreshFamily().Advance(ctx, "missing", 1)
	if code := auth.ErrorCode(err); code != auth.EConflict {
		t.Errorf("incorrect error code, want %s got %s", auth.EConflict, code)
	}
}

func TestVerificationCodeRepo_ConsumeIsConditional(t *testing.T) {
	db := test.NewPGDB(t)
	c := TestClient(db)

	ctx := context.Background()
	principal := testPrincipal("jane", "jane@example.com")
	if err := c.Principal().Create(ctx, principal); err != nil {
		t.Fatal("failed to create principal:", err)
	}

	code := &auth.VerificationCode{
		ID:          "01HY4ZZZZZZZZZZZZZZZZZZZZ1",
		PrincipalID: principal.ID,
		Purpose:     auth.PurposeMFALogin,
		CodeHash:    "hashed-code",
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
	if err := c.VerificationCode().Create(ctx, code); err != nil {
		t.Fatal("failed to create code:", err)
	}

	attempts, err := c.VerificationCode().IncrementAttempts(ctx, code.ID)
	if err != nil {
		t.Fatal("failed to increment attempts:", err)
	}
	if attempts != 1 {
		t.Errorf("incorrect attempts, want 1 got %d", attempts)
	}

	if err = c.VerificationCode().Consume(ctx, code.ID, time.Now()); err != nil {
		t.Fatal("failed to consume code:", err)
	}

	err = c.VerificationCode().Consume(ctx, code.ID, time.Now())
	if respCode := auth.ErrorCode(err); respCode != auth.ECodeInvalid {
		t.Errorf("incorrect error code, want %s got %s", auth.ECodeInvalid, respCode)
	}

	_, err = c.VerificationCode().ActiveByPurpose(ctx, principal.ID, auth.PurposeMFALogin)
	if respCode := auth.ErrorCode(err); respCode != auth.ENotFound {
		t.Errorf("incorrect error code, want %s got %s", auth.ENotFound, respCode)
	}
}
