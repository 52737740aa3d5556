package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIdentityAnonymous(t *testing.T) {
	var p *Principal
	if got := p.Identity("kitchen"); got != "anon:kitchen" {
		t.Fatalf("Identity = %q", got)
	}
	empty := &Principal{}
	if got := empty.Identity("kitchen"); got != "anon:kitchen" {
		t.Fatalf("Identity = %q", got)
	}
}

func TestIdentityIsStablePerKey(t *testing.T) {
	a := &Principal{APIKey: "sk-one"}
	b := &Principal{APIKey: "sk-two"}

	if a.Identity("s") != a.Identity("s") {
		t.Fatal("identity must be deterministic")
	}
	if a.Identity("s") == b.Identity("s") {
		t.Fatal("different keys must map to different identities")
	}
	if a.Identity("s1") == a.Identity("s2") {
		t.Fatal("different sessions on one key must not collide")
	}
	if !strings.HasSuffix(a.Identity("kitchen"), ":kitchen") {
		t.Fatalf("Identity = %q, expected session suffix", a.Identity("kitchen"))
	}
}

func TestFingerprintNeverExposesKey(t *testing.T) {
	p := &Principal{APIKey: "sk-supersecret"}
	fp := p.Fingerprint()
	if strings.Contains(fp, "supersecret") {
		t.Fatalf("fingerprint %q leaks the key", fp)
	}
	if len(fp) != 16 {
		t.Fatalf("fingerprint length = %d, want 16 hex chars", len(fp))
	}

	var anon *Principal
	if anon.Fingerprint() != "anonymous" {
		t.Fatalf("anonymous fingerprint = %q", anon.Fingerprint())
	}
}

func TestParseBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer sk-x", "sk-x", true},
		{"bearer sk-x", "sk-x", true},
		{"Bearer   sk-x  ", "sk-x", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("POST", "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		token, ok := ParseBearer(r)
		if ok != tc.ok || token != tc.token {
			t.Fatalf("header %q: got (%q, %v), want (%q, %v)", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}
