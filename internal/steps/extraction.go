package steps

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/flowbot/internal/domain"
)

// ErrExtractionParse — ответ модели не содержит JSON объекта.
var ErrExtractionParse = errors.New("extraction response is not a JSON object")

// Extraction — разобранный ответ сервиса извлечения.
type Extraction struct {
	// Values — значения переменных схемы: конкретные или domain.Any.
	// Отсутствующие переменные в карту не попадают.
	Values map[string]any

	// Confidence — уверенность модели (0, если не указана).
	Confidence float64
}

// Служебные ключи ответа модели.
const (
	extractionVariables  = "variables"
	extractionDeclined   = "declined"
	extractionConfidence = "confidence"
)

// ParseExtraction разбирает ответ модели.
//
// Допустимые формы:
//
//	{"title": "Book X", "editor": {"$any": true}}
//	{"variables": {"title": "Book X"}, "declined": ["editor"], "confidence": 0.8}
//
// JSON может быть внутри ```-блока или окружён текстом. Отсутствующее значение,
// null и пустая строка означают "не собрано". Значения приводятся к типу схемы,
// если это возможно.
func ParseExtraction(raw string, schema []domain.VariableSchema) (*Extraction, error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	vars := obj
	if nested, ok := obj[extractionVariables].(map[string]any); ok {
		vars = nested
	}

	declined := make(map[string]bool)
	if list, ok := obj[extractionDeclined].([]any); ok {
		for _, item := range list {
			if name, ok := item.(string); ok {
				declined[name] = true
			}
		}
	}

	out := &Extraction{Values: make(map[string]any)}
	if c, ok := obj[extractionConfidence].(float64); ok {
		out.Confidence = c
	}

	for _, v := range schema {
		if declined[v.Name] {
			out.Values[v.Name] = domain.Any
			continue
		}
		value, ok := vars[v.Name]
		if !ok || value == nil {
			continue
		}
		if domain.IsAnyMarker(value) || value == "$any" {
			out.Values[v.Name] = domain.Any
			continue
		}
		coerced, ok := coerce(value, v.Type)
		if !ok || domain.PresenceOf(coerced) != domain.Present {
			continue
		}
		out.Values[v.Name] = coerced
	}

	return out, nil
}

// extractJSONObject находит JSON объект в ответе модели.
func extractJSONObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrExtractionParse)
	}

	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no object found", ErrExtractionParse)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
	}
	return obj, nil
}

// coerce приводит значение к типу схемы. Пустой тип оставляет значение как есть.
func coerce(v any, typ string) (any, bool) {
	switch typ {
	case "string":
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t), true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(t), true
		}
		return nil, false
	case "number":
		switch t := v.(type) {
		case float64:
			return t, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			return f, err == nil
		}
		return nil, false
	case "boolean":
		switch t := v.(type) {
		case bool:
			return t, true
		case string:
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(t)))
			return b, err == nil
		}
		return nil, false
	case "object":
		m, ok := v.(map[string]any)
		return m, ok
	case "array":
		a, ok := v.([]any)
		return a, ok
	default:
		return v, true
	}
}
