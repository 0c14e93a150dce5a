package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/flowbot/internal/domain"
)

// Допустимые виды узлов.
var validNodeKinds = map[domain.NodeKind]bool{
	domain.NodeKindTrigger:        true,
	domain.NodeKindExtractor:      true,
	domain.NodeKindConversational: true,
	domain.NodeKindRouter:         true,
	domain.NodeKindAction:         true,
}

// ValidationReport — результат проверки определения flow.
type ValidationReport struct {
	Valid    bool      `json:"valid"`
	Error    string    `json:"error,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Validate выполняет полную проверку определения flow.
//
// Проверяет:
// - Наличие узлов и уникальность их ID
// - Виды узлов и ровно один trigger
// - Конфигурации узлов (типы полей, маршруты, действия)
// - Рёбра (висячие, дубли, handle router) и достижимость — как предупреждения
func Validate(def *domain.FlowDefinition) ([]Warning, error) {
	cf, err := CompileDefinition(def)
	if err != nil {
		return nil, err
	}
	return cf.Warnings, nil
}

// Report выполняет Validate и упаковывает результат для API и CLI.
func Report(def *domain.FlowDefinition) *ValidationReport {
	warnings, err := Validate(def)
	if err != nil {
		return &ValidationReport{Valid: false, Error: err.Error()}
	}
	return &ValidationReport{Valid: true, Warnings: warnings}
}

// ParseDefinition парсит определение flow из JSON и проверяет его.
func ParseDefinition(data []byte) (*domain.FlowDefinition, []Warning, error) {
	var def domain.FlowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, nil, fmt.Errorf("parse flow definition: %w", err)
	}

	warnings, err := Validate(&def)
	if err != nil {
		return nil, nil, err
	}
	return &def, warnings, nil
}

// IsValidNodeKind проверяет, является ли вид узла допустимым.
func IsValidNodeKind(kind string) bool {
	return validNodeKinds[domain.NodeKind(kind)]
}

// GetValidNodeKinds возвращает список допустимых видов узлов.
func GetValidNodeKinds() []string {
	kinds := make([]string, 0, len(validNodeKinds))
	for k := range validNodeKinds {
		kinds = append(kinds, string(k))
	}
	return kinds
}
