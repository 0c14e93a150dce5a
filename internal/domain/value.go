package domain

import (
	"encoding/json"
	"strings"
)

// AnyValue — тип значения "любое" (пользователь явно отказался уточнять).
//
// Отличается от отсутствующего значения: отсутствие означает "ещё не собрано",
// AnyValue означает "собрано, подходит что угодно".
type AnyValue struct{}

// Any — единственное значение AnyValue.
var Any = AnyValue{}

// anyMarker — ключ JSON представления: {"$any":true}.
const anyMarker = "$any"

// String возвращает текстовое представление для шаблонов.
func (AnyValue) String() string { return "any" }

// MarshalJSON сериализует Any как {"$any":true}.
func (AnyValue) MarshalJSON() ([]byte, error) {
	return []byte(`{"` + anyMarker + `":true}`), nil
}

// IsAny проверяет, что значение — Any.
func IsAny(v any) bool {
	_, ok := v.(AnyValue)
	return ok
}

// IsAnyMarker проверяет, что значение — JSON представление Any после декодирования.
func IsAnyMarker(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	b, ok := m[anyMarker].(bool)
	return ok && b
}

// RestoreAny рекурсивно заменяет {"$any":true} на Any в декодированном JSON.
func RestoreAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if IsAnyMarker(t) {
			return Any
		}
		for k, item := range t {
			t[k] = RestoreAny(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = RestoreAny(item)
		}
		return t
	default:
		return v
	}
}

// Presence — три состояния переменной.
type Presence int

const (
	// Absent — значение ещё не собрано.
	Absent Presence = iota

	// Declined — пользователь явно отказался уточнять (Any или null).
	Declined

	// Present — конкретное значение.
	Present
)

// String возвращает имя состояния.
func (p Presence) String() string {
	switch p {
	case Declined:
		return "declined"
	case Present:
		return "present"
	default:
		return "absent"
	}
}

// PresenceOf возвращает состояние значения, найденного в scope.
// Пустая (после trim) строка считается отсутствующей.
func PresenceOf(v any) Presence {
	switch t := v.(type) {
	case nil:
		return Declined
	case AnyValue:
		return Declined
	case string:
		if strings.TrimSpace(t) == "" {
			return Absent
		}
		return Present
	default:
		return Present
	}
}

// LookupPresence возвращает состояние переменной name в карте vars.
func LookupPresence(vars map[string]any, name string) Presence {
	v, ok := vars[name]
	if !ok {
		return Absent
	}
	return PresenceOf(v)
}

// IsCollected — переменная присутствует или отклонена.
func IsCollected(vars map[string]any, name string) bool {
	return LookupPresence(vars, name) != Absent
}

// MergeCollected возвращает обновления, которые нужно применить к existing
// по результатам нового сбора candidate.
//
// Правила:
//   - отсутствующий или null кандидат ничего не меняет;
//   - Any записывается, только если значение ещё не Present;
//   - конкретное значение записывается всегда (пользователь уточнил).
func MergeCollected(existing, candidate map[string]any) map[string]any {
	updates := make(map[string]any)
	for name, value := range candidate {
		if value == nil {
			continue
		}
		switch PresenceOf(value) {
		case Absent:
			continue
		case Declined:
			if LookupPresence(existing, name) == Present {
				continue
			}
			updates[name] = Any
		case Present:
			updates[name] = cloneValue(value)
		}
	}
	return updates
}

// RequiredStatus вычисляет производные флаги slot filling:
// allRequiredPresent (все обязательные собраны или Any) и список
// отсутствующих обязательных переменных в порядке объявления.
func RequiredStatus(schema []VariableSchema, vars map[string]any) (bool, []string) {
	missing := make([]string, 0)
	for _, v := range schema {
		if !v.Required {
			continue
		}
		if !IsCollected(vars, v.Name) {
			missing = append(missing, v.Name)
		}
	}
	return len(missing) == 0, missing
}

// cloneValue делает глубокую копию JSON-подобного значения.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// CloneValue — экспортируемая глубокая копия для других пакетов.
func CloneValue(v any) any {
	return cloneValue(v)
}

// Normalize приводит значение к JSON-подобному виду (map[string]any, []any,
// float64, string, bool, nil), сохраняя Any. Значения неизвестных типов
// проходят через encoding/json.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, AnyValue:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return t
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return t
		}
		return RestoreAny(out)
	}
}
