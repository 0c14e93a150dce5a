package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/flowbot/internal/domain"
)

// bookFlow — flow сбора названия, издательства и издания с поиском.
func bookFlow() *domain.FlowDefinition {
	return &domain.FlowDefinition{
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.NodeKindTrigger},
			{ID: "extract", Kind: domain.NodeKindExtractor, Config: map[string]any{
				"variables": []any{
					map[string]any{"name": "title", "type": "string", "required": true},
					map[string]any{"name": "editor", "type": "string", "required": true},
					map[string]any{"name": "edition", "type": "string", "required": true},
				},
			}},
			{ID: "route", Kind: domain.NodeKindRouter, Config: map[string]any{
				"routes": []any{
					map[string]any{"id": "search", "condition": "{{extract.allRequiredPresent}} equals true"},
					map[string]any{"id": "ask", "condition": "{{extract.allRequiredPresent}} equals false"},
				},
			}},
			{ID: "ask", Kind: domain.NodeKindAction, Config: map[string]any{
				"action": "message",
				"params": map[string]any{"text": "¿Cuál es el {{extract.nextMissing}}?"},
			}},
			{ID: "search", Kind: domain.NodeKindAction, Config: map[string]any{
				"action":         "search",
				"params":         map[string]any{"query": "{{title}}", "limit": "5"},
				"outputVariable": "results",
			}},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "extract"},
			{Source: "extract", Target: "route"},
			{Source: "route", SourceHandle: "search", Target: "search"},
			{Source: "route", SourceHandle: "ask", Target: "ask"},
		},
	}
}

func hasWarning(warnings []Warning, nodeID, fragment string) bool {
	for _, w := range warnings {
		if w.NodeID == nodeID && strings.Contains(w.Message, fragment) {
			return true
		}
	}
	return false
}

func TestValidate_ValidFlow(t *testing.T) {
	warnings, err := Validate(bookFlow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *domain.FlowDefinition)
		wantErr error
	}{
		{
			name:    "empty flow",
			mutate:  func(d *domain.FlowDefinition) { d.Nodes = nil },
			wantErr: ErrEmptyNodes,
		},
		{
			name:    "empty node id",
			mutate:  func(d *domain.FlowDefinition) { d.Nodes[1].ID = "" },
			wantErr: ErrEmptyNodeID,
		},
		{
			name:    "duplicate node id",
			mutate:  func(d *domain.FlowDefinition) { d.Nodes[4].ID = "ask" },
			wantErr: ErrDuplicateNodeID,
		},
		{
			name:    "unknown kind",
			mutate:  func(d *domain.FlowDefinition) { d.Nodes[1].Kind = "classifier" },
			wantErr: ErrUnknownNodeKind,
		},
		{
			name:    "no trigger",
			mutate:  func(d *domain.FlowDefinition) { d.Nodes[0].Kind = domain.NodeKindRouter },
			wantErr: ErrNoTrigger,
		},
		{
			name:    "two triggers",
			mutate:  func(d *domain.FlowDefinition) { d.Nodes[1] = domain.Node{ID: "extract", Kind: domain.NodeKindTrigger} },
			wantErr: ErrMultipleTriggers,
		},
		{
			name: "duplicate route id",
			mutate: func(d *domain.FlowDefinition) {
				d.Nodes[2].Config["routes"] = []any{
					map[string]any{"id": "ask"},
					map[string]any{"id": "ask"},
				}
			},
			wantErr: ErrDuplicateRouteID,
		},
		{
			name:    "unknown action",
			mutate:  func(d *domain.FlowDefinition) { d.Nodes[3].Config["action"] = "teleport" },
			wantErr: ErrUnknownActionType,
		},
		{
			name:    "config type mismatch",
			mutate:  func(d *domain.FlowDefinition) { d.Nodes[2].Config["routes"] = "search" },
			wantErr: ErrInvalidConfig,
		},
		{
			name: "unknown variable type",
			mutate: func(d *domain.FlowDefinition) {
				d.Nodes[1].Config["variables"] = []any{map[string]any{"name": "x", "type": "date"}}
			},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := bookFlow()
			tt.mutate(def)

			_, err := Validate(def)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			var ve *ValidationError
			if tt.wantErr != ErrEmptyNodes && !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestCompile_DuplicateEdgesDeduplicated(t *testing.T) {
	def := bookFlow()
	def.Edges = append(def.Edges,
		domain.Edge{Source: "route", SourceHandle: "search", Target: "search"},
		domain.Edge{Source: "start", Target: "extract"},
	)

	cf, err := CompileDefinition(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := len(cf.Graph.Outgoing("route")); n != 2 {
		t.Errorf("expected 2 router edges, got %d", n)
	}
	if n := len(cf.Graph.Outgoing("start")); n != 1 {
		t.Errorf("expected 1 trigger edge, got %d", n)
	}
	if !hasWarning(cf.Warnings, "route", "duplicate edge") {
		t.Errorf("expected duplicate edge warning, got %v", cf.Warnings)
	}
}

func TestCompile_Warnings(t *testing.T) {
	def := bookFlow()
	def.Nodes = append(def.Nodes,
		domain.Node{ID: "orphan", Kind: domain.NodeKindAction, Config: map[string]any{"action": "cart", "params": map[string]any{}}},
	)
	def.Edges = append(def.Edges,
		domain.Edge{Source: "route", SourceHandle: "nope", Target: "ask"},
		domain.Edge{Source: "ask", Target: "ghost"},
		domain.Edge{Source: "extract", Target: "ask"},
	)
	def.Nodes[2].Config["routes"] = []any{
		map[string]any{"id": "search", "condition": "{{extract.allRequiredPresent}} equals true"},
		map[string]any{"id": "ask", "condition": "allRequiredPresent equals false"},
	}
	def.Nodes[3].Config["params"] = map[string]any{"text": "Hola {{name"}
	def.Nodes[3].Config["position"] = map[string]any{"x": 1}

	cf, err := CompileDefinition(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		nodeID   string
		fragment string
	}{
		{"orphan", "not reachable"},
		{"route", "matches no route"},
		{"ask", "unknown target node"},
		{"extract", "only the first"},
		{"route", "not wrapped"},
		{"ask", "params"},
		{"ask", "unknown config field \"position\""},
		{"orphan", "no params.op"},
	}
	for _, c := range checks {
		if !hasWarning(cf.Warnings, c.nodeID, c.fragment) {
			t.Errorf("expected warning %q on %s, got %v", c.fragment, c.nodeID, cf.Warnings)
		}
	}

	// Ребро с неизвестным handle никогда не используется
	if _, ok := cf.Graph.EdgeFor("route", "nope"); ok {
		t.Error("edge with unknown handle should be pruned")
	}
}

func TestCompile_TypedConfigs(t *testing.T) {
	cf, err := CompileDefinition(bookFlow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	extract := cf.Node("extract")
	if extract.Extractor == nil || len(extract.Extractor.Variables) != 3 {
		t.Fatalf("extractor config not decoded: %+v", extract.Extractor)
	}
	if !extract.Extractor.Variables[0].Required {
		t.Error("required flag lost")
	}

	route := cf.Node("route")
	if len(route.Routes) != 2 || route.Routes[0].ID != "search" {
		t.Fatalf("routes not compiled: %+v", route.Routes)
	}
	if route.Router.FallbackMode() != domain.RouterFallbackFirst {
		t.Errorf("expected default fallback first, got %s", route.Router.FallbackMode())
	}

	search := cf.Node("search")
	if search.Action.Action != domain.ActionSearch || search.Action.OutputVariable != "results" {
		t.Errorf("action config not decoded: %+v", search.Action)
	}

	scope := domain.NewScope(map[string]any{"title": "Book X"})
	resolved := search.ResolveConfig(scope)
	params := resolved["params"].(map[string]any)
	if params["query"] != "Book X" || params["limit"] != "5" {
		t.Errorf("unexpected resolved params: %v", params)
	}
}

func TestCompile_DoesNotAliasSource(t *testing.T) {
	def := bookFlow()
	cf, err := CompileDefinition(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def.Nodes[0].ID = "changed"
	def.Nodes[3].Config["action"] = "payment"

	if cf.Graph.Trigger != "start" {
		t.Error("compiled graph aliases caller nodes")
	}
	if cf.Definition.Nodes[3].Config["action"] != "message" {
		t.Error("compiled definition aliases caller config")
	}
}

func TestReport(t *testing.T) {
	report := Report(bookFlow())
	if !report.Valid || report.Error != "" {
		t.Errorf("expected valid report, got %+v", report)
	}

	def := bookFlow()
	def.Nodes = nil
	report = Report(def)
	if report.Valid || report.Error == "" {
		t.Errorf("expected invalid report, got %+v", report)
	}
}

func TestParseDefinition(t *testing.T) {
	data := []byte(`{
		"nodes": [
			{"id": "start", "kind": "trigger"},
			{"id": "hello", "kind": "action", "config": {"action": "message", "params": {"text": "hola"}}}
		],
		"edges": [{"source": "start", "target": "hello"}]
	}`)

	def, warnings, err := ParseDefinition(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(def.Nodes) != 2 || len(warnings) != 0 {
		t.Errorf("unexpected result: %d nodes, warnings %v", len(def.Nodes), warnings)
	}

	if _, _, err := ParseDefinition([]byte(`{not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestIsValidNodeKind(t *testing.T) {
	for _, kind := range GetValidNodeKinds() {
		if !IsValidNodeKind(kind) {
			t.Errorf("%s should be valid", kind)
		}
	}
	if IsValidNodeKind("http") {
		t.Error("http is not a node kind")
	}
}
