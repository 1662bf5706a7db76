package safeenv

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

func TestBuildFromFiltersSecrets(t *testing.T) {
	ambient := []string{
		"HOME=/home/alice",
		"PATH=/usr/bin",
		"DATABASE_URL=postgres://secret",
		"ANTHROPIC_API_KEY=sk-ant-xxx",
		"AWS_SECRET_ACCESS_KEY=hunter2",
	}
	env := BuildFrom(ambient, nil)

	if env["HOME"] != "/home/alice" {
		t.Errorf("HOME = %q, want /home/alice", env["HOME"])
	}
	if env["PATH"] != "/usr/bin" {
		t.Errorf("PATH = %q, want /usr/bin", env["PATH"])
	}
	for _, k := range []string{"DATABASE_URL", "ANTHROPIC_API_KEY", "AWS_SECRET_ACCESS_KEY"} {
		if _, ok := env[k]; ok {
			t.Errorf("secret key %s leaked into child environment", k)
		}
	}
}

func TestBuildFromOverridesWinLast(t *testing.T) {
	ambient := []string{"TERM=xterm"}
	env := BuildFrom(ambient, map[string]string{
		"TERM":             "xterm-256color",
		"DECK_AGENT_TOKEN": "tok",
	})
	if env["TERM"] != "xterm-256color" {
		t.Errorf("TERM = %q, want override to win", env["TERM"])
	}
	if env["DECK_AGENT_TOKEN"] != "tok" {
		t.Errorf("override key missing: %v", env)
	}
}

// Property: for any ambient environment, the result contains no key
// outside allowlist ∪ overrides.
func TestBuildFromExclusionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	overrides := map[string]string{
		"DECK_AGENT_TOKEN": "t",
		"DECK_PROXY_URL":   "http://127.0.0.1:1",
	}

	for iter := 0; iter < 100; iter++ {
		var ambient []string
		for i := 0; i < 50; i++ {
			k := randomKey(rng)
			ambient = append(ambient, fmt.Sprintf("%s=value-%d", k, i))
		}
		// Mix in some allow-listed keys too.
		ambient = append(ambient, "HOME=/h", "LANG=C.UTF-8")

		env := BuildFrom(ambient, overrides)
		for k := range env {
			if allowlist[k] {
				continue
			}
			if _, ok := overrides[k]; ok {
				continue
			}
			t.Fatalf("iteration %d: unexpected key %q in sanitized environment", iter, k)
		}
	}
}

func randomKey(rng *rand.Rand) string {
	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ_"
	n := 3 + rng.Intn(18)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(chars[rng.Intn(len(chars))])
	}
	return b.String()
}

func TestSliceSortedPairs(t *testing.T) {
	got := Slice(map[string]string{"B": "2", "A": "1"})
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Errorf("Slice = %v, want [A=1 B=2]", got)
	}
}
