package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shaiso/flowbot/internal/domain"
)

// UndefinedValue — маркер отсутствующей переменной.
//
// В тексте рендерится пустой строкой: плейсхолдер {{...}} никогда не
// попадает в исходящее сообщение.
type UndefinedValue struct{}

// Undefined — единственное значение UndefinedValue.
var Undefined = UndefinedValue{}

// String возвращает пустую строку.
func (UndefinedValue) String() string { return "" }

// IsUndefined проверяет, что значение — Undefined.
func IsUndefined(v any) bool {
	_, ok := v.(UndefinedValue)
	return ok
}

// Template — шаблон, разобранный в список частей: литералы и плейсхолдеры.
type Template struct {
	source string
	parts  []part
	err    error
}

type part struct {
	literal string
	path    *Path
}

// ParseTemplate разбирает строку с плейсхолдерами {{path}}.
//
// Разбор тотальный: некорректные плейсхолдеры (незакрытые, пустые, с
// неверным путём) выбрасываются из шаблона, а ошибка сохраняется в Err.
func ParseTemplate(src string) *Template {
	t := &Template{source: src}
	if !strings.Contains(src, "{{") {
		if src != "" {
			t.parts = []part{{literal: src}}
		}
		return t
	}

	var errs []error
	i := 0
	for i < len(src) {
		start := strings.Index(src[i:], "{{")
		if start < 0 {
			t.addLiteral(src[i:])
			break
		}
		start += i
		t.addLiteral(src[i:start])

		end := matchPlaceholder(src, start)
		if end < 0 {
			errs = append(errs, fmt.Errorf("%w: unclosed placeholder at %d", ErrTemplateParse, start))
			break
		}

		path, err := ParsePath(src[start+2 : end])
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrTemplateParse, err))
		} else {
			t.parts = append(t.parts, part{path: path})
		}
		i = end + 2
	}

	t.err = errors.Join(errs...)
	return t
}

func (t *Template) addLiteral(s string) {
	if s == "" {
		return
	}
	if n := len(t.parts); n > 0 && t.parts[n-1].path == nil {
		t.parts[n-1].literal += s
		return
	}
	t.parts = append(t.parts, part{literal: s})
}

// Source возвращает исходный текст шаблона.
func (t *Template) Source() string { return t.source }

// Err возвращает ошибку разбора (nil для корректного шаблона).
func (t *Template) Err() error { return t.err }

// IsStatic возвращает true, если шаблон не содержит плейсхолдеров.
func (t *Template) IsStatic() bool {
	for _, p := range t.parts {
		if p.path != nil {
			return false
		}
	}
	return true
}

// Paths возвращает пути всех плейсхолдеров шаблона.
func (t *Template) Paths() []*Path {
	var out []*Path
	for _, p := range t.parts {
		if p.path != nil {
			out = append(out, p.path)
		}
	}
	return out
}

// Resolve разрешает шаблон.
//
// Шаблон без плейсхолдеров возвращается без изменений. Шаблон из одного
// плейсхолдера возвращает значение как есть (не строку), в том числе
// Undefined. Смешанный шаблон возвращает строку.
func (t *Template) Resolve(scope *domain.Scope) any {
	if t.err == nil && t.IsStatic() {
		return t.source
	}
	if len(t.parts) == 1 && t.parts[0].path != nil {
		return t.parts[0].path.Resolve(scope)
	}

	var b strings.Builder
	for _, p := range t.parts {
		if p.path == nil {
			b.WriteString(p.literal)
			continue
		}
		b.WriteString(Stringify(p.path.Resolve(scope)))
	}
	return b.String()
}

// ResolveString разрешает шаблон и приводит результат к строке.
func (t *Template) ResolveString(scope *domain.Scope) string {
	return Stringify(t.Resolve(scope))
}

// Resolve разбирает и разрешает шаблон за один вызов.
func Resolve(template string, scope *domain.Scope) any {
	if !strings.Contains(template, "{{") {
		return template
	}
	return ParseTemplate(template).Resolve(scope)
}

// Stringify приводит значение scope к тексту для подстановки.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case UndefinedValue:
		return ""
	case domain.AnyValue:
		return t.String()
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// ResolveValue рекурсивно разрешает значение: строки как шаблоны,
// map и slice поэлементно. Ключи map, разрешённые в Undefined,
// удаляются; элементы slice становятся nil.
func ResolveValue(value any, scope *domain.Scope) any {
	return CompileValue(value).Resolve(scope)
}

// CompiledValue — значение конфигурации с заранее разобранными шаблонами.
type CompiledValue struct {
	tmpl  *Template
	items map[string]*CompiledValue
	list  []*CompiledValue
	raw   any
	kind  valueKind
}

type valueKind int

const (
	kindRaw valueKind = iota
	kindTemplate
	kindMap
	kindList
)

// CompileValue разбирает все строковые листья значения в шаблоны.
func CompileValue(value any) *CompiledValue {
	switch v := value.(type) {
	case string:
		return &CompiledValue{kind: kindTemplate, tmpl: ParseTemplate(v)}
	case map[string]any:
		c := &CompiledValue{kind: kindMap, items: make(map[string]*CompiledValue, len(v))}
		for k, item := range v {
			c.items[k] = CompileValue(item)
		}
		return c
	case []any:
		c := &CompiledValue{kind: kindList, list: make([]*CompiledValue, len(v))}
		for i, item := range v {
			c.list[i] = CompileValue(item)
		}
		return c
	default:
		return &CompiledValue{kind: kindRaw, raw: v}
	}
}

// Resolve разрешает значение против scope.
func (c *CompiledValue) Resolve(scope *domain.Scope) any {
	switch c.kind {
	case kindTemplate:
		return c.tmpl.Resolve(scope)
	case kindMap:
		out := make(map[string]any, len(c.items))
		for k, item := range c.items {
			v := item.Resolve(scope)
			if IsUndefined(v) {
				continue
			}
			out[k] = v
		}
		return out
	case kindList:
		out := make([]any, len(c.list))
		for i, item := range c.list {
			v := item.Resolve(scope)
			if IsUndefined(v) {
				v = nil
			}
			out[i] = v
		}
		return out
	default:
		return c.raw
	}
}

// Err возвращает ошибки разбора всех шаблонов значения.
func (c *CompiledValue) Err() error {
	var errs []error
	c.walk(func(t *Template) {
		if t.err != nil {
			errs = append(errs, t.err)
		}
	})
	return errors.Join(errs...)
}

// Paths возвращает пути всех плейсхолдеров значения.
func (c *CompiledValue) Paths() []*Path {
	var out []*Path
	c.walk(func(t *Template) {
		out = append(out, t.Paths()...)
	})
	return out
}

func (c *CompiledValue) walk(fn func(*Template)) {
	switch c.kind {
	case kindTemplate:
		fn(c.tmpl)
	case kindMap:
		for _, item := range c.items {
			item.walk(fn)
		}
	case kindList:
		for _, item := range c.list {
			item.walk(fn)
		}
	}
}

// ContainsPlaceholder проверяет, остался ли в значении текст вида {{...}}.
func ContainsPlaceholder(value any) bool {
	switch v := value.(type) {
	case string:
		open := strings.Index(v, "{{")
		return open >= 0 && strings.Contains(v[open:], "}}")
	case map[string]any:
		for _, item := range v {
			if ContainsPlaceholder(item) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if ContainsPlaceholder(item) {
				return true
			}
		}
	}
	return false
}
