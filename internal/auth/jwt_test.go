package auth

import (
	"testing"
	"time"
)

func TestIssueParseRoundTrip(t *testing.T) {
	pair, err := Issue("user-7", "classtrack", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := Parse(pair.AccessToken, "secret", "classtrack")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "user-7" {
		t.Errorf("UserID = %q, want user-7", claims.UserID)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	pair, err := Issue("user-7", "classtrack", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "wrong-key", "classtrack"); err == nil {
		t.Error("wrong key accepted")
	}
	if _, err := Parse(pair.AccessToken, "secret", "someone-else"); err == nil {
		t.Error("wrong issuer accepted")
	}
	if _, err := Parse("not-a-token", "secret", "classtrack"); err == nil {
		t.Error("garbage accepted")
	}
}
