package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument — пустой документ flow.
var ErrEmptyDocument = errors.New("empty flow document")

// FlowDocument — файл flow для CLI: имя и определение.
type FlowDocument struct {
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Definition FlowDefinition `json:"definition" yaml:"definition"`
}

// ParseFlowDocument разбирает документ flow в формате YAML или JSON.
//
// Документ — либо FlowDocument (с ключом definition), либо голое определение
// (nodes/edges на верхнем уровне). YAML сначала приводится к JSON, чтобы
// вложенные config узлов имели вид map[string]any.
func ParseFlowDocument(data []byte) (*FlowDocument, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse flow document: %w", err)
	}
	raw = yamlToJSON(raw)

	top, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse flow document: top level must be an object")
	}

	jsonData, err := json.Marshal(top)
	if err != nil {
		return nil, fmt.Errorf("parse flow document: %w", err)
	}

	var doc FlowDocument
	if _, wrapped := top["definition"]; wrapped {
		if err := json.Unmarshal(jsonData, &doc); err != nil {
			return nil, fmt.Errorf("decode flow document: %w", err)
		}
	} else {
		if err := json.Unmarshal(jsonData, &doc.Definition); err != nil {
			return nil, fmt.Errorf("decode flow definition: %w", err)
		}
		if name, ok := top["name"].(string); ok {
			doc.Name = name
		}
	}

	return &doc, nil
}

// yamlToJSON приводит ключи map[any]any к строкам.
func yamlToJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = yamlToJSON(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = yamlToJSON(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = yamlToJSON(item)
		}
		return t
	default:
		return v
	}
}
