package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func fixedGenerator(t *testing.T, cfg Config) *Generator {
	t.Helper()
	if cfg.SharedSecret == "" {
		cfg.SharedSecret = "shared-secret"
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.UsernamePrefix == "" {
		cfg.UsernamePrefix = "aero"
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	}
	g, err := NewGenerator(cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestGenerate_DeterministicWithFixedTime(t *testing.T) {
	g := fixedGenerator(t, Config{})

	creds, err := g.Generate("session123")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := creds.Expires.Unix(); got != 1_700_003_600 {
		t.Fatalf("expires=%d, want 1700003600", got)
	}
	wantUsername := "1700003600:aero:session123"
	if creds.Username != wantUsername {
		t.Fatalf("username=%q, want %q", creds.Username, wantUsername)
	}

	mac := hmac.New(sha1.New, []byte("shared-secret"))
	mac.Write([]byte(wantUsername))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); creds.Credential != want {
		t.Fatalf("credential=%q, want %q", creds.Credential, want)
	}
}

func TestGenerate_RejectsBadSession(t *testing.T) {
	g := fixedGenerator(t, Config{})
	for _, session := range []string{"", "a:b"} {
		if _, err := g.Generate(session); err == nil {
			t.Fatalf("Generate(%q) succeeded", session)
		}
	}
}

func TestGenerateRandom_UsesSessionSource(t *testing.T) {
	g := fixedGenerator(t, Config{SessionID: func() string { return "fixed" }})
	creds, err := g.GenerateRandom()
	if err != nil {
		t.Fatalf("GenerateRandom: %v", err)
	}
	if !strings.HasSuffix(creds.Username, ":aero:fixed") {
		t.Fatalf("username=%q", creds.Username)
	}

	g = fixedGenerator(t, Config{})
	a, _ := g.GenerateRandom()
	b, _ := g.GenerateRandom()
	if a.Username == b.Username {
		t.Fatalf("random sessions collided: %q", a.Username)
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	cases := []Config{
		{TTL: time.Hour, UsernamePrefix: "p"},
		{SharedSecret: "s", TTL: 0, UsernamePrefix: "p"},
		{SharedSecret: "s", TTL: time.Hour},
		{SharedSecret: "s", TTL: time.Hour, UsernamePrefix: "a:b"},
	}
	for _, cfg := range cases {
		if _, err := NewGenerator(cfg); err == nil {
			t.Fatalf("NewGenerator(%+v) succeeded", cfg)
		}
	}
}

func TestApply_OnlyTURNServers(t *testing.T) {
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"TURN:turn.example:3478?transport=udp"}},
		{URLs: []string{"stun:x", " turns:turn.example:5349"}},
	}
	creds := Credentials{Username: "u", Credential: "c"}

	out := Apply(servers, creds)
	if out[0].Username != "" {
		t.Fatalf("stun server got credentials: %+v", out[0])
	}
	for _, i := range []int{1, 2} {
		if out[i].Username != "u" || out[i].Credential != "c" {
			t.Fatalf("server %d=%+v, want credentials", i, out[i])
		}
	}
	if servers[1].Username != "" {
		t.Fatalf("input slice mutated")
	}

	if got := Apply([]webrtc.ICEServer{}, creds); got == nil || len(got) != 0 {
		t.Fatalf("empty input=%v, want empty non-nil", got)
	}
}
