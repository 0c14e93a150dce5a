package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Env — окружение команд: ввод/вывод и значения по умолчанию флагов.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer

	// DefaultAPIURL и DefaultTenant — значения флагов, если они не заданы.
	DefaultAPIURL string
	DefaultTenant string
}

// DefaultEnv возвращает окружение процесса: stdout/stderr и переменные
// FLOWBOT_API_URL, FLOWBOT_TENANT.
func DefaultEnv() Env {
	apiURL := os.Getenv("FLOWBOT_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	return Env{
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
		DefaultAPIURL: apiURL,
		DefaultTenant: os.Getenv("FLOWBOT_TENANT"),
	}
}

// NewRootCmd создаёт корневую команду flowbot со всеми подкомандами.
func NewRootCmd(version string, env Env) *cobra.Command {
	var (
		apiURL     string
		tenant     string
		jsonOutput bool
	)

	rootCmd := &cobra.Command{
		Use:           "flowbot",
		Short:         "flowbot CLI — manage chatbot flows, conversations and runs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(env.Stdout)
	rootCmd.SetErr(env.Stderr)

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", env.DefaultAPIURL, "API server URL")
	rootCmd.PersistentFlags().StringVar(&tenant, "tenant", env.DefaultTenant, "Tenant ID")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *Client { return NewClient(apiURL, tenant) }
	outputFn := func() *Output { return NewOutputTo(jsonOutput, env.Stdout, env.Stderr) }

	rootCmd.AddCommand(
		NewFlowCmd(clientFn, outputFn),
		NewConversationCmd(clientFn, outputFn),
		NewRunCmd(clientFn, outputFn),
		NewEventCmd(clientFn, outputFn),
	)

	return rootCmd
}
