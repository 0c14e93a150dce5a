package engine

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/shaiso/flowbot/internal/domain"
)

// Path — разобранное выражение плейсхолдера.
//
// Грамматика: ident ('.' ident | '[' index ']')*
//
//	title
//	search.results[0].title
//	items[{{selectedIndex}} - 1].price
//	user["first name"]
type Path struct {
	source   string
	segments []segment
}

// segment — шаг пути: поле или индекс.
type segment struct {
	field string
	index *indexExpr
}

// indexExpr — выражение внутри [...].
//
// Статический индекс (число или строка в кавычках) известен при разборе.
// Иначе вложенные плейсхолдеры заменяются переменными p0, p1, ... и
// выражение вычисляется expr программой.
type indexExpr struct {
	source  string
	static  any
	program *vm.Program
	vars    []*Path
}

// bareIndexName — имя переменной в индексе без {{}}: items[selectedIndex - 1].
var bareIndexName = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*`)

// programCache — скомпилированные expr программы по исходному тексту.
var programCache sync.Map

// ParsePath разбирает выражение плейсхолдера (без {{ }}).
func ParsePath(src string) (*Path, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidPath)
	}

	p := &Path{source: src}
	i := 0

	field, next := readField(src, i)
	if field == "" {
		return nil, fmt.Errorf("%w: %q must start with a name", ErrInvalidPath, src)
	}
	p.segments = append(p.segments, segment{field: field})
	i = next

	for i < len(src) {
		switch src[i] {
		case '.':
			field, next = readField(src, i+1)
			if field == "" {
				return nil, fmt.Errorf("%w: %q has an empty name after '.'", ErrInvalidPath, src)
			}
			p.segments = append(p.segments, segment{field: field})
			i = next

		case '[':
			end := matchBracket(src, i)
			if end < 0 {
				return nil, fmt.Errorf("%w: %q has an unclosed '['", ErrInvalidPath, src)
			}
			ix, err := parseIndex(src[i+1 : end])
			if err != nil {
				return nil, err
			}
			p.segments = append(p.segments, segment{index: ix})
			i = end + 1

		default:
			return nil, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidPath, src[i], src)
		}
	}

	return p, nil
}

// String возвращает исходный текст пути.
func (p *Path) String() string {
	return p.source
}

// Root возвращает первое имя пути.
func (p *Path) Root() string {
	return p.segments[0].field
}

// Resolve находит значение пути в scope. Отсутствующее значение — Undefined.
func (p *Path) Resolve(scope *domain.Scope) any {
	names := make([]string, 0, len(p.segments))
	for _, s := range p.segments {
		if s.index != nil {
			break
		}
		names = append(names, s.field)
	}

	v, consumed, ok := scope.Lookup(names)
	if !ok {
		return Undefined
	}

	for _, s := range p.segments[consumed:] {
		v, ok = descend(v, s, scope)
		if !ok {
			return Undefined
		}
	}
	return v
}

// descend выполняет один шаг пути.
func descend(v any, s segment, scope *domain.Scope) (any, bool) {
	if s.index == nil {
		return lookupField(v, s.field)
	}

	key, ok := s.index.eval(scope)
	if !ok {
		return nil, false
	}
	switch k := key.(type) {
	case int:
		switch t := v.(type) {
		case []any:
			if k < 0 || k >= len(t) {
				return nil, false
			}
			return t[k], true
		case map[string]any:
			item, ok := t[strconv.Itoa(k)]
			return item, ok
		}
	case string:
		return lookupField(v, k)
	}
	return nil, false
}

func lookupField(v any, field string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		item, ok := t[field]
		return item, ok
	case map[string]string:
		item, ok := t[field]
		return item, ok
	case []any:
		if field == "length" {
			return float64(len(t)), true
		}
		i, err := strconv.Atoi(field)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case string:
		if field == "length" {
			return float64(len([]rune(t))), true
		}
	}
	return nil, false
}

// eval вычисляет индекс: int для массивов, string для объектов.
func (ix *indexExpr) eval(scope *domain.Scope) (any, bool) {
	if ix.program == nil {
		return ix.static, true
	}

	env := make(map[string]any, len(ix.vars))
	for i, p := range ix.vars {
		v := p.Resolve(scope)
		if IsUndefined(v) || v == nil || domain.IsAny(v) {
			return nil, false
		}
		env[indexVar(i)] = numericOrSelf(v)
	}

	out, err := expr.Run(ix.program, env)
	if err != nil {
		return nil, false
	}

	switch t := out.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) {
			return nil, false
		}
		return int(t), true
	case string:
		return t, true
	}
	return nil, false
}

func parseIndex(src string) (*indexExpr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty index", ErrInvalidPath)
	}

	ix := &indexExpr{source: src}

	if n, err := strconv.Atoi(src); err == nil {
		ix.static = n
		return ix, nil
	}
	if len(src) >= 2 && (src[0] == '"' || src[0] == '\'') && src[len(src)-1] == src[0] {
		ix.static = src[1 : len(src)-1]
		return ix, nil
	}

	if !strings.Contains(src, "{{") {
		src = bareIndexName.ReplaceAllString(src, "{{$0}}")
	}

	// Вложенные плейсхолдеры → переменные p0, p1, ...
	var b strings.Builder
	i := 0
	for i < len(src) {
		start := strings.Index(src[i:], "{{")
		if start < 0 {
			b.WriteString(src[i:])
			break
		}
		start += i
		b.WriteString(src[i:start])
		end := matchPlaceholder(src, start)
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed placeholder in index %q", ErrInvalidPath, ix.source)
		}
		inner, err := ParsePath(src[start+2 : end])
		if err != nil {
			return nil, err
		}
		b.WriteString(indexVar(len(ix.vars)))
		ix.vars = append(ix.vars, inner)
		i = end + 2
	}

	program, err := compileProgram(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: index %q: %v", ErrInvalidPath, ix.source, err)
	}
	ix.program = program
	return ix, nil
}

// compileProgram компилирует арифметическое выражение индекса (с кэшем).
func compileProgram(src string) (*vm.Program, error) {
	if p, ok := programCache.Load(src); ok {
		return p.(*vm.Program), nil
	}

	program, err := expr.Compile(src, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	programCache.Store(src, program)
	return program, nil
}

func indexVar(i int) string {
	return "p" + strconv.Itoa(i)
}

// numericOrSelf превращает числовые строки в числа для арифметики.
func numericOrSelf(v any) any {
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return v
}

// readField читает имя до '.', '[' или конца строки.
func readField(src string, i int) (string, int) {
	start := i
	for i < len(src) {
		c := src[i]
		if c == '.' || c == '[' {
			break
		}
		if c == ']' || c == '{' || c == '}' || c == '"' || c == '\'' || c == ' ' || c == '\t' || c == '\n' {
			return "", i
		}
		i++
	}
	return src[start:i], i
}

// matchBracket возвращает позицию ']' парной к '[' в позиции open.
// Учитывает вложенные скобки, плейсхолдеры и строки в кавычках.
func matchBracket(src string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// matchPlaceholder возвращает позицию "}}" парной к "{{" в позиции open.
func matchPlaceholder(src string, open int) int {
	depth := 0
	for i := open; i < len(src)-1; i++ {
		switch {
		case src[i] == '{' && src[i+1] == '{':
			depth++
			i++
		case src[i] == '}' && src[i+1] == '}':
			depth--
			if depth == 0 {
				return i
			}
			i++
		}
	}
	return -1
}
