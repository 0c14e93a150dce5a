package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

// NewConversationCmd создаёт группу команд для разговоров пользователей.
func NewConversationCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Inspect and reset end-user conversations",
	}

	cmd.AddCommand(
		newConversationShowCmd(clientFn, outputFn),
		newConversationResetCmd(clientFn, outputFn),
	)

	return cmd
}

func newConversationShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show USER",
		Short: "Show conversation variables and recent history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			conv, err := clientFn().GetConversation(args[0])
			if err != nil {
				return err
			}
			if out.jsonMode {
				out.JSON(conv)
				return nil
			}

			names := make([]string, 0, len(conv.Variables))
			for name := range conv.Variables {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, len(names))
			for i, name := range names {
				rows[i] = []string{name, formatValue(conv.Variables[name])}
			}
			out.Text(fmt.Sprintf("user %s, %s runs, last node %q", conv.EndUserID, strconv.Itoa(conv.RunCount), conv.LastNodeID))
			out.Table([]string{"VARIABLE", "VALUE"}, rows)

			if len(conv.History) > 0 {
				history := make([][]string, len(conv.History))
				for i, t := range conv.History {
					history[i] = []string{t.Role, t.Text}
				}
				out.Text("")
				out.Table([]string{"ROLE", "TEXT"}, history)
			}
			return nil
		},
	}
}

func newConversationResetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "reset USER",
		Short: "Forget the conversation state of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().ResetConversation(args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Conversation reset: %s", args[0]))
			return nil
		},
	}
}

// formatValue печатает значение переменной. {"$any": true} — "*".
func formatValue(v any) string {
	if m, ok := v.(map[string]any); ok && len(m) == 1 && m["$any"] == true {
		return "*"
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
