package domain

import (
	"errors"
	"testing"
)

const yamlFlow = `
name: libreria
definition:
  variables:
    title: {}
    editor: {}
  settings:
    max_steps: 20
  nodes:
    - id: start
      kind: trigger
    - id: route
      kind: router
      config:
        routes:
          - id: ready
            condition: "{{title}} exists"
  edges:
    - source: start
      target: route
`

const jsonFlow = `{
  "nodes": [{"id": "start", "kind": "trigger"}],
  "edges": [],
  "variables": {"editor": {"default": {"$any": true}}}
}`

func TestParseFlowDocument_YAML(t *testing.T) {
	doc, err := ParseFlowDocument([]byte(yamlFlow))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Name != "libreria" {
		t.Errorf("expected name libreria, got %q", doc.Name)
	}
	if len(doc.Definition.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(doc.Definition.Nodes))
	}
	if doc.Definition.Settings.MaxSteps != 20 {
		t.Errorf("expected max_steps 20, got %d", doc.Definition.Settings.MaxSteps)
	}

	routes, ok := doc.Definition.Nodes[1].Config["routes"].([]any)
	if !ok || len(routes) != 1 {
		t.Fatalf("expected routes in router config, got %#v", doc.Definition.Nodes[1].Config)
	}
	if len(doc.Definition.TriggerNodes()) != 1 {
		t.Error("expected one trigger node")
	}
}

func TestParseFlowDocument_BareJSON(t *testing.T) {
	doc, err := ParseFlowDocument([]byte(jsonFlow))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defaults := doc.Definition.Defaults()
	if !IsAny(defaults["editor"]) {
		t.Errorf("expected Any default, got %#v", defaults["editor"])
	}
}

func TestParseFlowDocument_Empty(t *testing.T) {
	if _, err := ParseFlowDocument([]byte("  \n")); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
	if _, err := ParseFlowDocument([]byte("- a\n- b\n")); err == nil {
		t.Error("expected error for non-object document")
	}
}
