// Package turnrest issues coturn-compatible ephemeral TURN credentials (the
// "TURN REST API" scheme) and injects them into ICE server lists.
//
//	username   = <unix_expiry>:<prefix>:<session>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	Now       func() time.Time
	SessionID func() string
}

type Generator struct {
	secret    []byte
	ttl       time.Duration
	prefix    string
	now       func() time.Time
	sessionID func() string
}

// Credentials is one TURN username/credential pair.
type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTL < time.Second {
		return nil, errors.New("turnrest: TTL must be at least 1s")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("turnrest: username prefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("turnrest: username prefix must not contain ':'")
	}
	g := &Generator{
		secret:    []byte(cfg.SharedSecret),
		ttl:       cfg.TTL,
		prefix:    cfg.UsernamePrefix,
		now:       cfg.Now,
		sessionID: cfg.SessionID,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.sessionID == nil {
		g.sessionID = uuid.NewString
	}
	return g, nil
}

// Generate issues credentials bound to session.
func (g *Generator) Generate(session string) (Credentials, error) {
	if session == "" {
		return Credentials{}, errors.New("turnrest: session is required")
	}
	if strings.Contains(session, ":") {
		return Credentials{}, errors.New("turnrest: session must not contain ':'")
	}
	expires := g.now().UTC().Truncate(time.Second).Add(g.ttl.Truncate(time.Second))
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), g.prefix, session)
	return Credentials{
		Username:   username,
		Credential: Sign(g.secret, username),
		Expires:    expires,
	}, nil
}

// GenerateRandom issues credentials for a fresh random session.
func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(g.sessionID())
}

// Sign computes the credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Apply returns a copy of servers with creds set on every entry that has a
// turn: or turns: URL. STUN-only entries are left untouched.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if HasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func HasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
