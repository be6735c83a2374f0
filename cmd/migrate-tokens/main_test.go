package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/onnwee/banter/crypto"
	"github.com/onnwee/banter/db"
	"github.com/onnwee/banter/oauth"
	"github.com/onnwee/banter/testutil"
)

func newKey(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func statusByVersion(t *testing.T, s []statusRow) map[int]int {
	t.Helper()
	m := map[int]int{}
	for _, r := range s {
		m[r.Version] += r.Count
	}
	return m
}

// TestMigrateTokens_DryRun tests that a dry run leaves plaintext rows alone.
func TestMigrateTokens_DryRun(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	plain := &db.CredentialStore{DB: database, Provider: "twitch"}
	if err := plain.Save(ctx, &oauth.Credentials{AccessToken: "test-access-token", RefreshToken: "test-refresh-token"}); err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}
	keys, err := crypto.LoadKeyring(newKey(t), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := migrateTokens(ctx, database, keys, true); err != nil {
		t.Fatalf("migrateTokens(dry-run) failed: %v", err)
	}

	status, err := encryptionStatus(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if got := statusByVersion(t, status); got[0] != 1 || got[1] != 0 {
		t.Errorf("dry-run should not change encryption_version, status = %v", got)
	}
	c, err := plain.Load(ctx)
	if err != nil || c.AccessToken != "test-access-token" {
		t.Errorf("dry-run changed stored token: %+v, %v", c, err)
	}
}

// TestMigrateTokens_RealMigration tests encryption of plaintext rows.
func TestMigrateTokens_RealMigration(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	plain := &db.CredentialStore{DB: database, Provider: "twitch"}
	if err := plain.Save(ctx, &oauth.Credentials{AccessToken: "test-access-token", RefreshToken: "test-refresh-token"}); err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}
	keys, err := crypto.LoadKeyring(newKey(t), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := migrateTokens(ctx, database, keys, false); err != nil {
		t.Fatalf("migrateTokens failed: %v", err)
	}

	status, err := encryptionStatus(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != 1 || status[0].Version != 1 || status[0].KeyID != keys.Primary().KeyID() {
		t.Fatalf("status after migration = %+v", status)
	}
	c, err := db.NewCredentialStore(database, keys).Load(ctx)
	if err != nil || c.AccessToken != "test-access-token" || c.RefreshToken != "test-refresh-token" {
		t.Errorf("decrypted credentials = %+v, %v", c, err)
	}
}

// TestMigrateTokens_KeyRotation tests re-sealing rows written under a retired key.
func TestMigrateTokens_KeyRotation(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	oldKey, newKeyB64 := newKey(t), newKey(t)
	oldRing, err := crypto.LoadKeyring(oldKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.NewCredentialStore(database, oldRing).Save(ctx, &oauth.Credentials{AccessToken: "rotate-me"}); err != nil {
		t.Fatal(err)
	}

	ring, err := crypto.LoadKeyring(newKeyB64, []string{oldKey})
	if err != nil {
		t.Fatal(err)
	}
	if err := migrateTokens(ctx, database, ring, false); err != nil {
		t.Fatalf("migrateTokens failed: %v", err)
	}

	status, err := encryptionStatus(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != 1 || status[0].KeyID != ring.Primary().KeyID() {
		t.Errorf("status after rotation = %+v", status)
	}
	newOnly, _ := crypto.LoadKeyring(newKeyB64, nil)
	c, err := db.NewCredentialStore(database, newOnly).Load(ctx)
	if err != nil || c.AccessToken != "rotate-me" {
		t.Errorf("Load() with new key only = %+v, %v", c, err)
	}
}
