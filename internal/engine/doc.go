// Package engine содержит чистую (без I/O) часть исполнения flow.
//
// Включает:
//   - path.go      — разбор путей плейсхолдеров (a.b[0], items[{{i}} - 1].price)
//   - template.go  — разрешение шаблонов {{path}} против scope
//   - condition.go — условия маршрутов router (exists, equals, contains, AND/OR)
//   - graph.go     — граф узлов и рёбер (арена по ID)
//   - compile.go   — компиляция flow: типизированные конфигурации, шаблоны, условия
//   - cache.go     — кэш скомпилированных flow
//   - parser.go    — проверка определения flow
//
// Шаблоны и условия разбираются один раз при компиляции flow и
// переиспользуются во всех run.
package engine
