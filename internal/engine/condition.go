package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shaiso/flowbot/internal/domain"
)

// Operator — оператор атомарного условия.
type Operator string

const (
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not exists"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not contains"
	OpStartsWith  Operator = "starts with"
	OpGreaterThan Operator = "greater than"
	OpLessThan    Operator = "less than"
)

// unary возвращает true для операторов без правого операнда.
func (o Operator) unary() bool {
	return o == OpExists || o == OpNotExists
}

// operatorPhrases — написания операторов, самые длинные первыми.
var operatorPhrases = []struct {
	words []string
	op    Operator
}{
	{[]string{"is", "not", "empty"}, OpExists},
	{[]string{"does", "not", "contain"}, OpNotContains},
	{[]string{"not", "exists"}, OpNotExists},
	{[]string{"not", "exist"}, OpNotExists},
	{[]string{"not", "equals"}, OpNotEquals},
	{[]string{"not", "equal"}, OpNotEquals},
	{[]string{"not", "contains"}, OpNotContains},
	{[]string{"starts", "with"}, OpStartsWith},
	{[]string{"greater", "than"}, OpGreaterThan},
	{[]string{"less", "than"}, OpLessThan},
	{[]string{"is", "empty"}, OpNotExists},
	{[]string{"exists"}, OpExists},
	{[]string{"exist"}, OpExists},
	{[]string{"equals"}, OpEquals},
	{[]string{"equal"}, OpEquals},
	{[]string{"=="}, OpEquals},
	{[]string{"="}, OpEquals},
	{[]string{"!="}, OpNotEquals},
	{[]string{"contains"}, OpContains},
	{[]string{">"}, OpGreaterThan},
	{[]string{"<"}, OpLessThan},
	{[]string{"not_exists"}, OpNotExists},
	{[]string{"not_equals"}, OpNotEquals},
	{[]string{"not_equal"}, OpNotEquals},
	{[]string{"not_contains"}, OpNotContains},
	{[]string{"starts_with"}, OpStartsWith},
	{[]string{"greater_than"}, OpGreaterThan},
	{[]string{"less_than"}, OpLessThan},
	{[]string{"is_empty"}, OpNotExists},
	{[]string{"is_not_empty"}, OpExists},
}

type logicOp int

const (
	logicNone logicOp = iota
	logicAnd
	logicOr
)

// Condition — разобранное условие маршрута.
//
// Грамматика: atom (AND atom)* | atom (OR atom)*. Смешивать AND и OR
// в одном условии нельзя, группировки нет.
type Condition struct {
	source   string
	logic    logicOp
	atoms    []*atom
	err      error
	warnings []string
}

type atom struct {
	source string
	left   *Path
	op     Operator
	right  *Template
	err    error
}

// ParseCondition разбирает условие. Разбор тотальный: ошибки сохраняются
// в условии, некорректные атомы вычисляются в false.
func ParseCondition(src string) *Condition {
	c := &Condition{source: strings.TrimSpace(src)}
	if c.source == "" {
		return c
	}

	tokens, err := tokenize(c.source)
	if err != nil {
		c.err = fmt.Errorf("%w: %v", ErrMalformedCondition, err)
		return c
	}

	var group []token
	flush := func() {
		c.atoms = append(c.atoms, c.parseAtom(group))
		group = nil
	}

	for _, tok := range tokens {
		logic := logicNone
		if tok.kind == tokWord {
			switch strings.ToUpper(tok.text) {
			case "AND", "&&":
				logic = logicAnd
			case "OR", "||":
				logic = logicOr
			}
		}
		if logic == logicNone {
			group = append(group, tok)
			continue
		}
		if c.logic != logicNone && c.logic != logic {
			c.err = fmt.Errorf("%w: AND and OR cannot be mixed in %q", ErrMalformedCondition, c.source)
			return c
		}
		c.logic = logic
		flush()
	}
	flush()

	return c
}

// Source возвращает исходный текст условия.
func (c *Condition) Source() string { return c.source }

// Err возвращает ошибки разбора условия и его атомов.
func (c *Condition) Err() error {
	errs := []error{c.err}
	for _, a := range c.atoms {
		errs = append(errs, a.err)
	}
	return errors.Join(errs...)
}

// Warnings возвращает не фатальные замечания (например, операнд без {{}}).
func (c *Condition) Warnings() []string {
	return c.warnings
}

// Evaluate вычисляет условие. Пустое условие истинно.
// Некорректное условие ложно; Evaluate никогда не паникует.
func (c *Condition) Evaluate(scope *domain.Scope) bool {
	if c.source == "" {
		return true
	}
	if c.err != nil || len(c.atoms) == 0 {
		return false
	}

	if c.logic == logicOr {
		for _, a := range c.atoms {
			if a.evaluate(scope) {
				return true
			}
		}
		return false
	}

	for _, a := range c.atoms {
		if !a.evaluate(scope) {
			return false
		}
	}
	return true
}

// Evaluate разбирает и вычисляет условие за один вызов.
func Evaluate(condition string, scope *domain.Scope) bool {
	return ParseCondition(condition).Evaluate(scope)
}

func (c *Condition) parseAtom(tokens []token) *atom {
	a := &atom{source: joinTokens(tokens)}
	if len(tokens) == 0 {
		a.err = fmt.Errorf("%w: empty operand in %q", ErrMalformedCondition, c.source)
		return a
	}

	// Левый операнд
	first := tokens[0]
	switch first.kind {
	case tokPlaceholder:
		path, err := ParsePath(first.text)
		if err != nil {
			a.err = fmt.Errorf("%w: %v", ErrMalformedCondition, err)
			return a
		}
		a.left = path
	case tokWord:
		path, err := ParsePath(first.text)
		if err != nil {
			a.err = fmt.Errorf("%w: %v", ErrMalformedCondition, err)
			return a
		}
		a.left = path
		c.warnings = append(c.warnings, fmt.Sprintf("operand %q is not wrapped in {{}}", first.text))
	default:
		a.err = fmt.Errorf("%w: %q must start with a variable", ErrMalformedCondition, a.source)
		return a
	}

	// Оператор
	rest := tokens[1:]
	op, n := matchOperator(rest)
	if n == 0 {
		a.err = fmt.Errorf("%w: unknown operator in %q", ErrMalformedCondition, a.source)
		return a
	}
	a.op = op
	rest = rest[n:]

	// Правый операнд
	if op.unary() {
		if len(rest) > 0 {
			a.err = fmt.Errorf("%w: unexpected %q after %s", ErrMalformedCondition, joinTokens(rest), op)
		}
		return a
	}
	if len(rest) == 0 {
		a.err = fmt.Errorf("%w: %s requires a value in %q", ErrMalformedCondition, op, a.source)
		return a
	}

	if len(rest) == 1 && rest[0].kind == tokQuoted {
		// Строка в кавычках — литерал, плейсхолдеры в ней не разбираются.
		a.right = &Template{source: rest[0].text, parts: []part{{literal: rest[0].text}}}
		return a
	}
	a.right = ParseTemplate(joinTokens(rest))
	if err := a.right.Err(); err != nil {
		a.err = fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}
	return a
}

func matchOperator(tokens []token) (Operator, int) {
	for _, phrase := range operatorPhrases {
		if len(phrase.words) > len(tokens) {
			continue
		}
		ok := true
		for i, w := range phrase.words {
			if tokens[i].kind != tokWord || !strings.EqualFold(tokens[i].text, w) {
				ok = false
				break
			}
		}
		if ok {
			return phrase.op, len(phrase.words)
		}
	}
	return "", 0
}

func (a *atom) evaluate(scope *domain.Scope) bool {
	if a.err != nil {
		return false
	}

	left := a.left.Resolve(scope)

	switch a.op {
	case OpExists:
		return exists(left)
	case OpNotExists:
		return !exists(left)
	}

	right := a.right.Resolve(scope)

	switch a.op {
	case OpEquals:
		return valuesEqual(left, right)
	case OpNotEquals:
		return !valuesEqual(left, right)
	case OpContains:
		return contains(left, right)
	case OpNotContains:
		return !contains(left, right)
	case OpStartsWith:
		s, ok := left.(string)
		if !ok {
			return false
		}
		return strings.HasPrefix(strings.ToLower(s), strings.ToLower(Stringify(right)))
	case OpGreaterThan, OpLessThan:
		lf, lok := toNumber(left)
		rf, rok := toNumber(right)
		if !lok || !rok {
			return false
		}
		if a.op == OpGreaterThan {
			return lf > rf
		}
		return lf < rf
	}
	return false
}

// exists — значение определено, не null и (для строк) не пустое после trim.
func exists(v any) bool {
	switch t := v.(type) {
	case nil, UndefinedValue:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

func valuesEqual(left, right any) bool {
	if IsUndefined(left) || IsUndefined(right) {
		return false
	}
	if left == nil || right == nil {
		other := right
		if left != nil {
			other = left
		}
		if other == nil {
			return true
		}
		s, ok := other.(string)
		return ok && strings.EqualFold(strings.TrimSpace(s), "null")
	}
	if domain.IsAny(left) || domain.IsAny(right) {
		return anyLike(left) && anyLike(right)
	}
	if lf, ok := toNumber(left); ok {
		if rf, ok := toNumber(right); ok {
			return lf == rf
		}
	}
	if lb, ok := toBool(left); ok {
		if rb, ok := toBool(right); ok {
			return lb == rb
		}
	}
	return strings.EqualFold(strings.TrimSpace(Stringify(left)), strings.TrimSpace(Stringify(right)))
}

func anyLike(v any) bool {
	if domain.IsAny(v) {
		return true
	}
	s, ok := v.(string)
	return ok && strings.EqualFold(strings.TrimSpace(s), "any")
}

func contains(left, right any) bool {
	switch t := left.(type) {
	case string:
		return strings.Contains(strings.ToLower(t), strings.ToLower(Stringify(right)))
	case []any:
		for _, item := range t {
			if valuesEqual(item, right) {
				return true
			}
		}
	case map[string]any:
		_, ok := t[Stringify(right)]
		return ok
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// Лексер условий.

type tokenKind int

const (
	tokWord tokenKind = iota
	tokPlaceholder
	tokQuoted
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++

		case strings.HasPrefix(src[i:], "{{"):
			end := matchPlaceholder(src, i)
			if end < 0 {
				return nil, fmt.Errorf("unclosed placeholder at %d", i)
			}
			tokens = append(tokens, token{kind: tokPlaceholder, text: src[i+2 : end]})
			i = end + 2

		case c == '"' || c == '\'':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unclosed quote at %d", i)
			}
			tokens = append(tokens, token{kind: tokQuoted, text: src[i+1 : i+1+end]})
			i += end + 2

		default:
			start := i
			for i < len(src) && !unicode.IsSpace(rune(src[i])) && !strings.HasPrefix(src[i:], "{{") {
				i++
			}
			tokens = append(tokens, token{kind: tokWord, text: src[start:i]})
		}
	}
	return tokens, nil
}

func joinTokens(tokens []token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		switch t.kind {
		case tokPlaceholder:
			parts[i] = "{{" + t.text + "}}"
		case tokQuoted:
			parts[i] = t.text
		default:
			parts[i] = t.text
		}
	}
	return strings.Join(parts, " ")
}
