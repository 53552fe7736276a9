package auth

import (
	"testing"
	"time"
)

func TestIssueParseRoundtrip(t *testing.T) {
	token, exp, err := Issue("S1", RoleStudent, "absensi", "secret", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Error("expiry not in the future")
	}

	claims, err := Parse(token, "secret", "absensi")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "S1" {
		t.Errorf("subject = %s, want S1", claims.Subject)
	}
	if claims.Role != RoleStudent {
		t.Errorf("role = %s, want %s", claims.Role, RoleStudent)
	}
}

func TestParseRejects(t *testing.T) {
	token, _, err := Issue("guru-1", RoleTeacher, "absensi", "secret", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	expired, _, err := Issue("guru-1", RoleTeacher, "absensi", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name   string
		token  string
		key    string
		issuer string
	}{
		{name: "wrong key", token: token, key: "other", issuer: "absensi"},
		{name: "wrong issuer", token: token, key: "secret", issuer: "someone-else"},
		{name: "expired", token: expired, key: "secret", issuer: "absensi"},
		{name: "garbage", token: "not.a.token", key: "secret", issuer: "absensi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.token, tt.key, tt.issuer); err == nil {
				t.Error("Parse() accepted an invalid token")
			}
		})
	}
}
