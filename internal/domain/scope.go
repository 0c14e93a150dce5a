package domain

import (
	"encoding/json"
	"strings"
)

// EventNamespace — зарезервированное пространство имён входящего события: {{event.message}}.
const EventNamespace = "event"

// Scope — область видимости переменных одного run.
//
// Два уровня:
//   - Globals — глобальные переменные, видны всем узлам и сохраняются между ходами;
//   - Nodes — выходы узлов, доступны как {{nodeId.field}}.
//
// Event — данные текущего входящего события, не сохраняется.
// Version увеличивается при каждом Apply.
type Scope struct {
	Globals map[string]any            `json:"globals"`
	Nodes   map[string]map[string]any `json:"nodes"`
	Event   map[string]any            `json:"-"`
	Version int64                     `json:"version"`
}

// NewScope создаёт scope с копией глобальных переменных.
func NewScope(globals map[string]any) *Scope {
	s := &Scope{
		Globals: make(map[string]any, len(globals)),
		Nodes:   make(map[string]map[string]any),
	}
	for k, v := range globals {
		s.Globals[k] = cloneValue(v)
	}
	return s
}

// Lookup ищет корень пути по списку имён.
//
// Порядок:
//  1. зарезервированное пространство event;
//  2. глобальные переменные по самому длинному префиксу с точками
//     (a.b.c → "a.b.c", затем "a.b" + c, затем "a" + b.c);
//  3. выходы узла по его ID.
//
// Возвращает найденное значение и количество использованных имён.
func (s *Scope) Lookup(names []string) (any, int, bool) {
	if s == nil || len(names) == 0 {
		return nil, 0, false
	}

	if names[0] == EventNamespace && s.Event != nil {
		return s.Event, 1, true
	}

	for i := len(names); i > 0; i-- {
		key := names[0]
		if i > 1 {
			key = strings.Join(names[:i], ".")
		}
		if v, ok := s.Globals[key]; ok {
			return v, i, true
		}
	}

	if out, ok := s.Nodes[names[0]]; ok {
		return out, 1, true
	}

	return nil, 0, false
}

// Global возвращает глобальную переменную.
func (s *Scope) Global(name string) (any, bool) {
	v, ok := s.Globals[name]
	return v, ok
}

// SetGlobal записывает глобальную переменную.
func (s *Scope) SetGlobal(name string, value any) {
	if s.Globals == nil {
		s.Globals = make(map[string]any)
	}
	s.Globals[name] = value
	s.Version++
}

// SetNodeOutput записывает выход узла.
func (s *Scope) SetNodeOutput(nodeID, field string, value any) {
	if s.Nodes == nil {
		s.Nodes = make(map[string]map[string]any)
	}
	out, ok := s.Nodes[nodeID]
	if !ok {
		out = make(map[string]any)
		s.Nodes[nodeID] = out
	}
	out[field] = value
	s.Version++
}

// Apply применяет результат узла: глобальные переменные и выходы.
// Ключи, не указанные в обновлении, не удаляются.
func (s *Scope) Apply(nodeID string, globals, outputs map[string]any) {
	if len(globals) == 0 && len(outputs) == 0 {
		return
	}
	if s.Globals == nil {
		s.Globals = make(map[string]any)
	}
	for k, v := range globals {
		s.Globals[k] = cloneValue(v)
	}
	if len(outputs) > 0 {
		if s.Nodes == nil {
			s.Nodes = make(map[string]map[string]any)
		}
		out, ok := s.Nodes[nodeID]
		if !ok {
			out = make(map[string]any, len(outputs))
			s.Nodes[nodeID] = out
		}
		for k, v := range outputs {
			out[k] = cloneValue(v)
		}
	}
	s.Version++
}

// Reset заменяет глобальные переменные значениями по умолчанию и очищает выходы узлов.
func (s *Scope) Reset(defaults map[string]any) {
	s.Globals = make(map[string]any, len(defaults))
	for k, v := range defaults {
		s.Globals[k] = cloneValue(v)
	}
	s.Nodes = make(map[string]map[string]any)
	s.Version++
}

// Clone возвращает глубокую копию scope.
func (s *Scope) Clone() *Scope {
	if s == nil {
		return nil
	}
	c := &Scope{
		Globals: make(map[string]any, len(s.Globals)),
		Nodes:   make(map[string]map[string]any, len(s.Nodes)),
		Version: s.Version,
	}
	for k, v := range s.Globals {
		c.Globals[k] = cloneValue(v)
	}
	for id, out := range s.Nodes {
		copied := make(map[string]any, len(out))
		for k, v := range out {
			copied[k] = cloneValue(v)
		}
		c.Nodes[id] = copied
	}
	if s.Event != nil {
		c.Event = cloneValue(s.Event).(map[string]any)
	}
	return c
}

// Snapshot возвращает копию сохраняемой части scope для run summary.
func (s *Scope) Snapshot() map[string]any {
	c := s.Clone()
	nodes := make(map[string]any, len(c.Nodes))
	for id, out := range c.Nodes {
		nodes[id] = out
	}
	return map[string]any{
		"globals": c.Globals,
		"nodes":   nodes,
		"version": c.Version,
	}
}

// UnmarshalJSON восстанавливает Any из {"$any":true}.
func (s *Scope) UnmarshalJSON(data []byte) error {
	type alias Scope
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Globals == nil {
		raw.Globals = make(map[string]any)
	}
	if raw.Nodes == nil {
		raw.Nodes = make(map[string]map[string]any)
	}
	for k, v := range raw.Globals {
		raw.Globals[k] = RestoreAny(v)
	}
	for _, out := range raw.Nodes {
		for k, v := range out {
			out[k] = RestoreAny(v)
		}
	}
	*s = Scope(raw)
	return nil
}
