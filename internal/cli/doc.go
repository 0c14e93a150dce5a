// Package cli реализует инструмент командной строки flowbot.
//
// # Обзор
//
// CLI работает с flowbot API по HTTP от имени тенанта (--tenant или
// FLOWBOT_TENANT). Проверка файлов flow (flow validate, flow push)
// выполняется локально тем же компилятором, что и в рантайме.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент API: запросы, разбор конвертов {"data"} и {"error"}.
//
//	client := cli.NewClient("http://localhost:8080", "libreria")
//	flows, err := client.ListFlows()
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные — в stdout, сообщения — в stderr:
// flowbot run list --json | jq .
//
// ## Commands
//
//   - flow: list, create, show, activate, delete, versions, push FILE, validate FILE
//   - conversation: show USER, reset USER
//   - run: list, show
//   - event: send
//
// Группы создаются фабриками (NewFlowCmd и т.д.), принимающими clientFn и
// outputFn: Client и Output строятся после разбора PersistentFlags.
package cli
