package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shaiso/flowbot/internal/api"
	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/orchestrator"
	"github.com/shaiso/flowbot/internal/repo"
	"github.com/shaiso/flowbot/internal/steps"
)

const greetingYAML = `name: saludo
definition:
  nodes:
    - id: start
      kind: trigger
    - id: hello
      kind: action
      config:
        action: message
        params:
          text: "¡Hola! ¿Qué libro buscas?"
  edges:
    - source: start
      target: hello
`

type recordingMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMessenger) Send(_ context.Context, msg *domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg.Text)
	return nil
}

type cliEnv struct {
	server    *httptest.Server
	messenger *recordingMessenger
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	flows := repo.NewMemoryFlows()
	conversations := repo.NewMemoryConversations()
	runs := repo.NewMemoryRuns()
	messenger := &recordingMessenger{}

	orch := orchestrator.New(orchestrator.Config{
		Flows:         flows,
		Conversations: conversations,
		Runs:          runs,
		Registry: steps.DefaultRegistry(steps.Dependencies{
			Messenger: messenger,
			Ledger:    repo.NewMemoryLedger(),
		}),
		Messenger: messenger,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	api.NewHandler(api.Config{
		Flows:         flows,
		Conversations: conversations,
		Runs:          runs,
		Runner:        orch,
		Cache:         orch.Cache(),
		Logger:        logger,
	}).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &cliEnv{server: srv, messenger: messenger}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd("test", Env{
		Stdout:        &stdout,
		Stderr:        &stderr,
		DefaultAPIURL: e.server.URL,
		DefaultTenant: "libreria",
	})
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLI_EndToEnd(t *testing.T) {
	env := newCLIEnv(t)
	file := writeFile(t, "saludo.yaml", greetingYAML)

	if _, stderr, err := env.run(t, "flow", "push", file, "--activate"); err != nil {
		t.Fatalf("flow push: %v (%s)", err, stderr)
	}

	stdout, _, err := env.run(t, "flow", "list", "--json")
	if err != nil {
		t.Fatalf("flow list: %v", err)
	}
	var flows []FlowResponse
	if err := json.Unmarshal([]byte(stdout), &flows); err != nil {
		t.Fatalf("decode flows %q: %v", stdout, err)
	}
	if len(flows) != 1 || flows[0].Name != "saludo" || !flows[0].IsActive {
		t.Fatalf("flows = %+v", flows)
	}

	stdout, _, err = env.run(t, "event", "send", "--user", "+5491100000000", "--message-id", "wamid.1", "hola")
	if err != nil {
		t.Fatalf("event send: %v", err)
	}
	if !strings.Contains(stdout, string(domain.ReasonEndOfGraph)) || !strings.Contains(stdout, "start > hello") {
		t.Errorf("event output = %q", stdout)
	}
	if len(env.messenger.sent) != 1 || env.messenger.sent[0] != "¡Hola! ¿Qué libro buscas?" {
		t.Errorf("sent = %v", env.messenger.sent)
	}

	// Повтор того же сообщения не исполняется второй раз
	_, _, err = env.run(t, "event", "send", "--user", "+5491100000000", "--message-id", "wamid.1", "hola")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Errorf("duplicate send: err = %v, want 409", err)
	}

	stdout, _, err = env.run(t, "run", "list", "--json", "--end-user", "+5491100000000")
	if err != nil {
		t.Fatalf("run list: %v", err)
	}
	var runs []RunResponse
	if err := json.Unmarshal([]byte(stdout), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Reason != string(domain.ReasonEndOfGraph) {
		t.Fatalf("runs = %+v", runs)
	}

	stdout, _, err = env.run(t, "run", "show", runs[0].RunID)
	if err != nil || !strings.Contains(stdout, runs[0].RunID) {
		t.Errorf("run show: %q, %v", stdout, err)
	}

	stdout, _, err = env.run(t, "conversation", "show", "+5491100000000", "--json")
	if err != nil {
		t.Fatalf("conversation show: %v", err)
	}
	var conv ConversationResponse
	if err := json.Unmarshal([]byte(stdout), &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	if conv.RunCount != 1 || conv.LastNodeID != "hello" {
		t.Errorf("conversation = %+v", conv)
	}

	if _, _, err := env.run(t, "conv", "reset", "+5491100000000"); err != nil {
		t.Fatalf("conversation reset: %v", err)
	}
	_, _, err = env.run(t, "conversation", "show", "+5491100000000")
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("show after reset: err = %v, want 404", err)
	}
}

func TestCLI_PushNewVersion(t *testing.T) {
	env := newCLIEnv(t)
	file := writeFile(t, "saludo.yaml", greetingYAML)

	stdout, _, err := env.run(t, "flow", "push", file, "--json")
	if err != nil {
		t.Fatalf("first push: %v", err)
	}
	var flow FlowResponse
	if err := json.Unmarshal([]byte(stdout), &flow); err != nil {
		t.Fatalf("decode flow: %v", err)
	}
	if flow.IsActive {
		t.Error("flow active without --activate")
	}

	if _, _, err := env.run(t, "flow", "push", file, "--flow", flow.ID, "--activate"); err != nil {
		t.Fatalf("second push: %v", err)
	}

	stdout, _, err = env.run(t, "flow", "versions", flow.ID, "--json")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	var versions []FlowVersionResponse
	if err := json.Unmarshal([]byte(stdout), &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 2 {
		t.Errorf("versions = %+v, want 2 newest first", versions)
	}

	shown, err := NewClient(env.server.URL, "libreria").GetFlow(flow.ID)
	if err != nil || !shown.IsActive {
		t.Errorf("GetFlow() = %+v, %v", shown, err)
	}
}

func TestCLI_FlowValidate(t *testing.T) {
	env := newCLIEnv(t)

	tests := []struct {
		name     string
		content  string
		wantErr  bool
		wantWarn bool
	}{
		{"valid yaml", greetingYAML, false, false},
		{
			name: "unreachable node warns",
			content: `{"nodes": [
				{"id": "start", "kind": "trigger"},
				{"id": "orphan", "kind": "action", "config": {"action": "message", "params": {"text": "x"}}}
			]}`,
			wantWarn: true,
		},
		{"no trigger", `nodes: [{id: a, kind: router}]`, true, false},
		{"not a document", `- just a list`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := writeFile(t, "flow.yaml", tt.content)
			_, stderr, err := env.run(t, "flow", "validate", file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := strings.Contains(stderr, "Warning:"); got != tt.wantWarn {
				t.Errorf("warnings printed = %v, want %v (stderr %q)", got, tt.wantWarn, stderr)
			}
		})
	}
}

func TestClient_RequiresTenant(t *testing.T) {
	c := NewClient("http://localhost:0", "")
	if _, err := c.ListFlows(); err == nil || !strings.Contains(err.Error(), "tenant") {
		t.Errorf("ListFlows() error = %v", err)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{map[string]any{"$any": true}, "*"},
		{"Planeta", "Planeta"},
		{float64(3), "3"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutput_Table(t *testing.T) {
	long := strings.Repeat("palabra ", 20)

	tests := []struct {
		name string
		rows [][]string
		want []string
		deny []string
	}{
		{"empty", nil, []string{"(none)"}, []string{"ROLE"}},
		{"multiline cell flattened", [][]string{{"user", "hola\nquiero un libro"}}, []string{"ROLE", "hola quiero un libro"}, nil},
		{"long cell truncated", [][]string{{"assistant", long}}, []string{"…"}, []string{strings.TrimSpace(long)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewOutputTo(false, &buf, io.Discard).Table([]string{"ROLE", "TEXT"}, tt.rows)
			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("output %q missing %q", out, s)
				}
			}
			for _, s := range tt.deny {
				if strings.Contains(out, s) {
					t.Errorf("output %q must not contain %q", out, s)
				}
			}
		})
	}
}
