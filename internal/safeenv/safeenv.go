// Package safeenv builds minimal environments for spawned agent
// processes. Children never inherit the server's full environment;
// only an explicit allow-list of non-secret keys survives, plus
// whatever session-scoped overrides the caller injects.
package safeenv

import (
	"os"
	"sort"
	"strings"
)

// allowlist is the set of ambient keys safe to pass to child processes.
// Everything else (DB credentials, upstream API keys) is dropped.
var allowlist = map[string]bool{
	"HOME":                true,
	"PATH":                true,
	"TERM":                true,
	"SHELL":               true,
	"USER":                true,
	"LOGNAME":             true,
	"LANG":                true,
	"LC_ALL":              true,
	"LC_CTYPE":            true,
	"TZ":                  true,
	"COLORTERM":           true,
	"TMPDIR":              true,
	"SSL_CERT_FILE":       true,
	"SSL_CERT_DIR":        true,
	"NODE_EXTRA_CA_CERTS": true,
	"NO_PROXY":            true,
}

// Build filters the current process environment down to the allow-list
// and applies overrides last. Call it fresh for every spawn.
func Build(overrides map[string]string) map[string]string {
	return BuildFrom(os.Environ(), overrides)
}

// BuildFrom is Build with an explicit ambient environment, in "K=V"
// form as returned by os.Environ.
func BuildFrom(ambient []string, overrides map[string]string) map[string]string {
	env := make(map[string]string, len(allowlist)+len(overrides))
	for _, e := range ambient {
		k, v, ok := strings.Cut(e, "=")
		if ok && allowlist[k] {
			env[k] = v
		}
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

// Slice converts an environment map to the sorted "K=V" slice exec.Cmd
// expects.
func Slice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
