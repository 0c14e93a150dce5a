// flowbot CLI — управление flows, разговорами и run тенанта через HTTP API.
//
// Использование:
//
//	flowbot [--api-url URL] [--tenant ID] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	flow          Управление flows (push, validate, activate, ...)
//	conversation  Состояние разговоров
//	run           Итоги run
//	event         Отправка тестовых сообщений
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/flowbot/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	env := cli.DefaultEnv()
	if err := cli.NewRootCmd(version, env).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
