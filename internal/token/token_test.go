package token

import (
	"testing"
	"time"
)

func testIssuer() *Issuer {
	return NewIssuer([]byte("0123456789abcdef0123456789abcdef"))
}

func TestAgentTokenRoundTrip(t *testing.T) {
	i := testIssuer()
	signed, err := i.IssueAgent("sess-1", "proj-1", "user-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueAgent: %v", err)
	}

	claims, err := i.Verify(signed, TypeAgent)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SessionID != "sess-1" || claims.ProjectID != "proj-1" || claims.Subject != "user-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestAgentTokenIsNotLoginCredential(t *testing.T) {
	i := testIssuer()
	signed, err := i.IssueAgent("sess-1", "proj-1", "user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := i.Verify(signed, TypeUser); err == nil {
		t.Fatal("agent token verified as user token")
	}
}

func TestUserTokenRoundTrip(t *testing.T) {
	i := testIssuer()
	signed, err := i.IssueUser("user-2", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := i.Verify(signed, TypeUser)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-2" {
		t.Errorf("subject = %q", claims.Subject)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	i := testIssuer()
	signed, err := i.IssueUser("user-3", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := i.Verify(signed, TypeUser); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	signed, err := testIssuer().IssueUser("user-4", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	other := NewIssuer([]byte("another-secret-another-secret-ab"))
	if _, err := other.Verify(signed, TypeUser); err == nil {
		t.Fatal("token signed with different secret accepted")
	}
}

type fakeConfigStore struct {
	vals map[string]string
}

func (f *fakeConfigStore) GetConfig(key string) (string, error) { return f.vals[key], nil }
func (f *fakeConfigStore) SetConfig(key, value string) error {
	f.vals[key] = value
	return nil
}

func TestLoadOrGenerateSecretPersists(t *testing.T) {
	store := &fakeConfigStore{vals: make(map[string]string)}
	first, err := LoadOrGenerateSecret(store, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 32 {
		t.Fatalf("secret length = %d, want 32", len(first))
	}
	second, err := LoadOrGenerateSecret(store, "")
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("secret not stable across loads")
	}
}
