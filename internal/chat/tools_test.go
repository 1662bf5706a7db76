package chat

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		tool string
		want Category
	}{
		{"Read", CategoryFileRead},
		{"Write", CategoryFileWrite},
		{"Edit", CategoryEdit},
		{"MultiEdit", CategoryEdit},
		{"Bash", CategoryCommand},
		{"bash", CategoryCommand},
		{"Grep", CategorySearch},
		{"Glob", CategorySearch},
		{"Task", CategorySubagent},
		{"WebFetch", CategoryWeb},
		{"WebSearch", CategoryWeb},
		{"mcp__github__create_issue", CategoryIntegration},
		{"SomethingNew", CategoryGeneric},
	}
	for _, tt := range tests {
		if got := Classify(tt.tool); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.tool, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		tool  string
		input string
		want  string
	}{
		{"bash", `{"command":"ls"}`, "ls"},
		{"Bash", `{"command":"go test ./..."}`, "go test ./..."},
		{"Write", `{"file_path":"/tmp/x"}`, "/tmp/x"},
		{"Read", `{"file_path":"/etc/hosts"}`, "/etc/hosts"},
		{"Grep", `{"pattern":"func main"}`, "func main"},
		{"WebFetch", `{"url":"https://example.com"}`, "https://example.com"},
		{"WebSearch", `{"query":"golang pty"}`, "golang pty"},
		{"Task", `{"description":"fix the tests"}`, "fix the tests"},
	}
	for _, tt := range tests {
		if got := Summarize(tt.tool, json.RawMessage(tt.input)); got != tt.want {
			t.Errorf("Summarize(%q, %s) = %q, want %q", tt.tool, tt.input, got, tt.want)
		}
	}
}

func TestSummarizeFallbackTruncatedJSON(t *testing.T) {
	input := `{"mystery": "` + strings.Repeat("x", 300) + `"}`
	got := Summarize("SomethingNew", json.RawMessage(input))
	if len(got) > maxSummaryLen {
		t.Errorf("summary length = %d, want <= %d", len(got), maxSummaryLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated summary should end in ellipsis: %q", got)
	}
}

func TestSummarizeMalformedInput(t *testing.T) {
	got := Summarize("bash", json.RawMessage(`not json`))
	if got != "not json" {
		t.Errorf("Summarize on malformed input = %q", got)
	}
}
