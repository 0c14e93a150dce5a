package engine

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/shaiso/flowbot/internal/domain"
)

// resolvableFields — поля конфигурации, которые разрешаются против scope
// перед вызовом исполнителя. Остальные поля статичны (маршруты, схемы)
// или разрешаются исполнителем по-своему (itemTemplate).
var resolvableFields = map[domain.NodeKind][]string{
	domain.NodeKindExtractor:      {"instructions"},
	domain.NodeKindConversational: {"persona", "topic", "prompt"},
	domain.NodeKindAction:         {"params"},
}

// CompiledFlow — flow, готовый к исполнению: граф, типизированные
// конфигурации узлов, разобранные шаблоны и условия.
type CompiledFlow struct {
	FlowID  uuid.UUID
	Version int

	// Definition — копия определения, на которую ссылается граф.
	Definition *domain.FlowDefinition

	Graph *Graph
	Nodes map[string]*CompiledNode

	// Defaults — начальные глобальные переменные.
	Defaults map[string]any

	// Warnings — не фатальные находки валидации.
	Warnings []Warning
}

// Node возвращает скомпилированный узел по ID.
func (f *CompiledFlow) Node(id string) *CompiledNode {
	return f.Nodes[id]
}

// Settings возвращает настройки исполнения flow.
func (f *CompiledFlow) Settings() domain.FlowSettings {
	return f.Definition.Settings
}

// CompiledNode — узел с типизированной конфигурацией.
// Заполнено ровно одно поле конфигурации, соответствующее Kind.
type CompiledNode struct {
	ID   string
	Kind domain.NodeKind
	Name string

	Trigger        *domain.TriggerConfig
	Extractor      *domain.ExtractorConfig
	Conversational *domain.ConversationalConfig
	Router         *domain.RouterConfig
	Action         *domain.ActionConfig

	// Routes — маршруты router с разобранными условиями.
	Routes []CompiledRoute

	// ItemTemplate — шаблон строки списка для message action.
	ItemTemplate *Template

	templates map[string]*CompiledValue
}

// CompiledRoute — маршрут с разобранным условием.
type CompiledRoute struct {
	domain.Route
	Condition *Condition
}

// ResolveConfig разрешает шаблонные поля конфигурации против scope.
// Поля, разрешённые в Undefined, в результат не попадают.
func (n *CompiledNode) ResolveConfig(scope *domain.Scope) map[string]any {
	out := make(map[string]any, len(n.templates))
	for key, value := range n.templates {
		v := value.Resolve(scope)
		if IsUndefined(v) {
			continue
		}
		out[key] = v
	}
	return out
}

// TemplateErr возвращает ошибки разбора шаблонов конфигурации.
func (n *CompiledNode) TemplateErr() error {
	keys := make([]string, 0, len(n.templates))
	for k := range n.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := n.templates[k].Err(); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

// Compile компилирует версию flow.
func Compile(v *domain.FlowVersion) (*CompiledFlow, error) {
	cf, err := CompileDefinition(&v.Definition)
	if err != nil {
		return nil, err
	}
	cf.FlowID = v.FlowID
	cf.Version = v.Version
	return cf, nil
}

// CompileDefinition строит граф, декодирует конфигурации узлов и
// разбирает шаблоны и условия. Определение копируется.
func CompileDefinition(src *domain.FlowDefinition) (*CompiledFlow, error) {
	if src == nil {
		return nil, ErrEmptyNodes
	}
	def := copyDefinition(src)

	g, warnings, err := BuildGraph(def)
	if err != nil {
		return nil, err
	}

	cf := &CompiledFlow{
		Definition: def,
		Graph:      g,
		Nodes:      make(map[string]*CompiledNode, len(def.Nodes)),
		Defaults:   def.Defaults(),
	}

	for _, id := range g.Order {
		node := g.Nodes[id]
		cn, nodeWarnings, err := compileNode(node)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, nodeWarnings...)
		cf.Nodes[id] = cn

		// Рёбра router без объявленного маршрута никогда не используются
		if cn.Kind == domain.NodeKindRouter {
			warnings = append(warnings, pruneRouterEdges(g, cn)...)
		} else if edges := g.Outgoing(id); len(edges) > 1 {
			warnings = append(warnings, Warning{
				NodeID:  id,
				Message: fmt.Sprintf("%d outgoing edges on a non-router node, only the first (-> %s) is followed", len(edges), edges[0].Target),
			})
		}
	}

	warnings = append(warnings, g.ReachabilityWarnings()...)
	cf.Warnings = warnings

	return cf, nil
}

// compileNode декодирует конфигурацию узла в структуру по виду узла.
func compileNode(node *domain.Node) (*CompiledNode, []Warning, error) {
	cn := &CompiledNode{
		ID:        node.ID,
		Kind:      node.Kind,
		Name:      node.Name,
		templates: make(map[string]*CompiledValue),
	}
	var warnings []Warning

	var target any
	switch node.Kind {
	case domain.NodeKindTrigger:
		cn.Trigger = &domain.TriggerConfig{}
		target = cn.Trigger
	case domain.NodeKindExtractor:
		cn.Extractor = &domain.ExtractorConfig{}
		target = cn.Extractor
	case domain.NodeKindConversational:
		cn.Conversational = &domain.ConversationalConfig{}
		target = cn.Conversational
	case domain.NodeKindRouter:
		cn.Router = &domain.RouterConfig{}
		target = cn.Router
	case domain.NodeKindAction:
		cn.Action = &domain.ActionConfig{}
		target = cn.Action
	}

	if err := decodeConfig(node.Config, target); err != nil {
		return nil, nil, NewValidationError(node.ID, "config", err.Error(), ErrInvalidConfig)
	}

	for _, key := range resolvableFields[node.Kind] {
		raw, ok := node.Config[key]
		if !ok {
			continue
		}
		cv := CompileValue(raw)
		if err := cv.Err(); err != nil {
			warnings = append(warnings, Warning{NodeID: node.ID, Message: fmt.Sprintf("%s: %v", key, err)})
		}
		cn.templates[key] = cv
	}

	var err error
	var kindWarnings []Warning
	switch node.Kind {
	case domain.NodeKindTrigger:
		kindWarnings, err = validateTrigger(cn)
	case domain.NodeKindExtractor:
		kindWarnings, err = validateSchema(cn.ID, cn.Extractor.Variables, true)
	case domain.NodeKindConversational:
		kindWarnings, err = validateSchema(cn.ID, cn.Conversational.Variables, false)
	case domain.NodeKindRouter:
		kindWarnings, err = compileRoutes(cn)
	case domain.NodeKindAction:
		kindWarnings, err = compileAction(cn)
	}
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, kindWarnings...)

	for key := range extraFields(cn) {
		warnings = append(warnings, Warning{NodeID: cn.ID, Message: fmt.Sprintf("unknown config field %q", key)})
	}

	return cn, warnings, nil
}

// decodeConfig декодирует map конфигурации в типизированную структуру.
func decodeConfig(raw map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return dec.Decode(raw)
}

func validateTrigger(cn *CompiledNode) ([]Warning, error) {
	switch cn.Trigger.Trigger {
	case "", "message", "always":
		return nil, nil
	case "keyword":
		if len(cn.Trigger.Keywords) == 0 {
			return []Warning{{NodeID: cn.ID, Message: "keyword trigger without keywords never fires"}}, nil
		}
		return nil, nil
	default:
		return nil, NewValidationError(cn.ID, "trigger",
			fmt.Sprintf("unknown trigger %q", cn.Trigger.Trigger), ErrInvalidConfig)
	}
}

func validateSchema(nodeID string, vars []domain.VariableSchema, requireAny bool) ([]Warning, error) {
	if requireAny && len(vars) == 0 {
		return []Warning{{NodeID: nodeID, Message: "extractor declares no variables"}}, nil
	}
	seen := make(map[string]bool, len(vars))
	for i, v := range vars {
		if v.Name == "" {
			return nil, NewValidationError(nodeID, "variables",
				fmt.Sprintf("variable %d has empty name", i), ErrInvalidConfig)
		}
		if seen[v.Name] {
			return nil, NewValidationError(nodeID, "variables",
				fmt.Sprintf("duplicate variable %q", v.Name), ErrInvalidConfig)
		}
		seen[v.Name] = true
		switch v.Type {
		case "", "string", "number", "boolean", "object", "array":
		default:
			return nil, NewValidationError(nodeID, "variables",
				fmt.Sprintf("variable %q has unknown type %q", v.Name, v.Type), ErrInvalidConfig)
		}
	}
	return nil, nil
}

func compileRoutes(cn *CompiledNode) ([]Warning, error) {
	var warnings []Warning
	seen := make(map[string]bool, len(cn.Router.Routes))

	for i, r := range cn.Router.Routes {
		if r.ID == "" {
			return nil, NewValidationError(cn.ID, "routes",
				fmt.Sprintf("route %d has empty ID", i), ErrInvalidConfig)
		}
		if seen[r.ID] {
			return nil, NewValidationError(cn.ID, "routes",
				fmt.Sprintf("duplicate route ID: %s", r.ID), ErrDuplicateRouteID)
		}
		seen[r.ID] = true

		cond := ParseCondition(r.Condition)
		if err := cond.Err(); err != nil {
			warnings = append(warnings, Warning{NodeID: cn.ID, Message: fmt.Sprintf("route %s: %v", r.ID, err)})
		}
		for _, w := range cond.Warnings() {
			warnings = append(warnings, Warning{NodeID: cn.ID, Message: fmt.Sprintf("route %s: %s", r.ID, w)})
		}
		cn.Routes = append(cn.Routes, CompiledRoute{Route: r, Condition: cond})
	}

	if cn.Router.FallbackMode() == domain.RouterFallbackDefault && cn.Router.DefaultHandle == "" {
		warnings = append(warnings, Warning{NodeID: cn.ID, Message: "fallback \"default\" without defaultHandle"})
	}
	if len(cn.Routes) == 0 {
		warnings = append(warnings, Warning{NodeID: cn.ID, Message: "router declares no routes"})
	}

	return warnings, nil
}

// pruneRouterEdges убирает рёбра router, handle которых не совпадает ни с
// одним маршрутом и не является defaultHandle.
func pruneRouterEdges(g *Graph, cn *CompiledNode) []Warning {
	valid := make(map[string]bool, len(cn.Routes)+1)
	for _, r := range cn.Routes {
		valid[r.ID] = true
	}
	if cn.Router.DefaultHandle != "" {
		valid[cn.Router.DefaultHandle] = true
	}

	var warnings []Warning
	g.retainEdges(cn.ID, func(e domain.Edge) bool {
		if valid[e.SourceHandle] {
			return true
		}
		warnings = append(warnings, Warning{
			NodeID:  cn.ID,
			Message: fmt.Sprintf("edge -> %s has handle %q that matches no route, it is never followed", e.Target, e.SourceHandle),
		})
		return false
	})

	if h := cn.Router.DefaultHandle; h != "" {
		if _, ok := g.EdgeFor(cn.ID, h); !ok {
			warnings = append(warnings, Warning{NodeID: cn.ID, Message: fmt.Sprintf("defaultHandle %q has no edge", h)})
		}
	}
	for _, r := range cn.Routes {
		if _, ok := g.EdgeFor(cn.ID, r.ID); !ok {
			warnings = append(warnings, Warning{NodeID: cn.ID, Message: fmt.Sprintf("route %s has no edge", r.ID)})
		}
	}
	return warnings
}

func compileAction(cn *CompiledNode) ([]Warning, error) {
	a := cn.Action
	if !a.Action.IsValid() {
		return nil, NewValidationError(cn.ID, "action",
			fmt.Sprintf("unknown action type: %q", a.Action), ErrUnknownActionType)
	}

	var warnings []Warning
	if a.ItemTemplate != "" {
		cn.ItemTemplate = ParseTemplate(a.ItemTemplate)
		if err := cn.ItemTemplate.Err(); err != nil {
			warnings = append(warnings, Warning{NodeID: cn.ID, Message: fmt.Sprintf("itemTemplate: %v", err)})
		}
	}
	if a.Retry != nil && a.Retry.MaxAttempts < 0 {
		return nil, NewValidationError(cn.ID, "retry", "maxAttempts must not be negative", ErrInvalidConfig)
	}

	switch a.Action {
	case domain.ActionMessage:
		if _, ok := a.Params["text"]; !ok {
			if _, ok := a.Params["items"]; !ok {
				warnings = append(warnings, Warning{NodeID: cn.ID, Message: "message action has neither params.text nor params.items"})
			}
		}
	case domain.ActionCart:
		if _, ok := a.Params["op"]; !ok {
			warnings = append(warnings, Warning{NodeID: cn.ID, Message: "cart action has no params.op, \"add\" is assumed"})
		}
	}
	return warnings, nil
}

func extraFields(cn *CompiledNode) map[string]any {
	switch {
	case cn.Trigger != nil:
		return cn.Trigger.Extra
	case cn.Extractor != nil:
		return cn.Extractor.Extra
	case cn.Conversational != nil:
		return cn.Conversational.Extra
	case cn.Router != nil:
		return cn.Router.Extra
	case cn.Action != nil:
		return cn.Action.Extra
	}
	return nil
}

// copyDefinition копирует определение, чтобы граф не ссылался на данные вызывающего.
func copyDefinition(src *domain.FlowDefinition) *domain.FlowDefinition {
	def := &domain.FlowDefinition{
		Nodes:     make([]domain.Node, len(src.Nodes)),
		Edges:     make([]domain.Edge, len(src.Edges)),
		Variables: src.Variables,
		Settings:  src.Settings,
	}
	for i, n := range src.Nodes {
		n.Config, _ = domain.CloneValue(n.Config).(map[string]any)
		def.Nodes[i] = n
	}
	copy(def.Edges, src.Edges)
	return def
}
