package domain

import (
	"encoding/json"
	"testing"
)

func TestScope_LookupOrder(t *testing.T) {
	s := NewScope(map[string]any{
		"title":          "Book X",
		"search.results": "global dotted",
		"user":           map[string]any{"name": "Ana"},
	})
	s.Event = map[string]any{"message": "hola"}
	s.Apply("search", nil, map[string]any{"results": []any{"a"}, "count": float64(1)})

	// event
	v, consumed, ok := s.Lookup([]string{"event", "message"})
	if !ok || consumed != 1 {
		t.Fatalf("expected event namespace, got ok=%v consumed=%d", ok, consumed)
	}
	if v.(map[string]any)["message"] != "hola" {
		t.Errorf("unexpected event value: %v", v)
	}

	// самый длинный префикс глобальной переменной выигрывает у выхода узла
	v, consumed, ok = s.Lookup([]string{"search", "results"})
	if !ok || consumed != 2 || v != "global dotted" {
		t.Errorf("expected dotted global, got %v consumed=%d ok=%v", v, consumed, ok)
	}

	// вложенный путь в глобальной переменной
	v, consumed, ok = s.Lookup([]string{"user", "name"})
	if !ok || consumed != 1 {
		t.Fatalf("expected root user, got consumed=%d ok=%v", consumed, ok)
	}
	if _, isMap := v.(map[string]any); !isMap {
		t.Errorf("expected map, got %T", v)
	}

	// выход узла
	v, consumed, ok = s.Lookup([]string{"search", "count"})
	if !ok || consumed != 1 {
		t.Fatalf("expected node output, got consumed=%d ok=%v", consumed, ok)
	}
	if v.(map[string]any)["count"] != float64(1) {
		t.Errorf("unexpected node output: %v", v)
	}

	if _, _, ok := s.Lookup([]string{"missing"}); ok {
		t.Error("missing variable should not be found")
	}
}

func TestScope_ApplyKeepsUntouchedKeys(t *testing.T) {
	s := NewScope(map[string]any{"title": "Book X", "editor": Any})
	before := s.Version

	s.Apply("extract", map[string]any{"edition": "2nd"}, map[string]any{"allRequiredPresent": true})

	if s.Version != before+1 {
		t.Errorf("expected version bump, got %d -> %d", before, s.Version)
	}
	if s.Globals["title"] != "Book X" {
		t.Error("title was deleted")
	}
	if !IsAny(s.Globals["editor"]) {
		t.Error("editor lost Any")
	}
	if s.Globals["edition"] != "2nd" {
		t.Error("edition not applied")
	}

	s.Apply("extract", nil, map[string]any{"missingFields": []any{}})
	if s.Nodes["extract"]["allRequiredPresent"] != true {
		t.Error("node output key was deleted")
	}
}

func TestScope_CloneIsDeep(t *testing.T) {
	s := NewScope(map[string]any{"cart": map[string]any{"count": float64(1)}})
	c := s.Clone()

	c.Globals["cart"].(map[string]any)["count"] = float64(5)

	if s.Globals["cart"].(map[string]any)["count"] != float64(1) {
		t.Error("clone shares nested maps with original")
	}
}

func TestScope_JSONPreservesAny(t *testing.T) {
	s := NewScope(map[string]any{"title": "Book X", "editor": Any})
	s.Event = map[string]any{"message": "not persisted"}
	s.Apply("extract", nil, map[string]any{"extracted": map[string]any{"edition": Any}})

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var restored Scope
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !IsAny(restored.Globals["editor"]) {
		t.Errorf("expected Any, got %#v", restored.Globals["editor"])
	}
	nested := restored.Nodes["extract"]["extracted"].(map[string]any)
	if !IsAny(nested["edition"]) {
		t.Errorf("expected nested Any, got %#v", nested["edition"])
	}
	if restored.Event != nil {
		t.Error("event namespace must not be persisted")
	}
	if restored.Version != s.Version {
		t.Errorf("version mismatch: %d != %d", restored.Version, s.Version)
	}
}

func TestScope_Reset(t *testing.T) {
	s := NewScope(map[string]any{"title": "Book X"})
	s.Apply("n1", nil, map[string]any{"x": 1})

	s.Reset(map[string]any{"greeting": "hola"})

	if _, ok := s.Globals["title"]; ok {
		t.Error("title should be cleared")
	}
	if s.Globals["greeting"] != "hola" {
		t.Error("defaults not applied")
	}
	if len(s.Nodes) != 0 {
		t.Error("node outputs should be cleared")
	}
}
