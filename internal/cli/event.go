package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewEventCmd создаёт группу команд для отправки входящих сообщений.
func NewEventCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Simulate inbound messages",
	}

	cmd.AddCommand(newEventSendCmd(clientFn, outputFn))

	return cmd
}

func newEventSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req EventRequest

	cmd := &cobra.Command{
		Use:   "send [MESSAGE]",
		Short: "Send a message on behalf of an end user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			if len(args) == 1 {
				req.Message = args[0]
			}

			result, err := clientFn().SendEvent(req)
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(result)
				return nil
			}
			if result.Queued() {
				out.Success(fmt.Sprintf("Event queued: message %s, run %s", result.MessageID, result.RunID))
				return nil
			}
			out.Text(fmt.Sprintf("run %s: %s", result.RunID, result.Reason))
			out.Text("visited: " + strings.Join(result.Visited, " > "))
			if result.Error != "" {
				out.Text("error: " + result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.EndUserID, "user", "", "End user ID, e.g. a WhatsApp number (required)")
	cmd.Flags().StringVar(&req.MessageID, "message-id", "", "Transport message ID (redelivery with the same ID is a no-op)")
	cmd.Flags().StringVar(&req.FlowID, "flow", "", "Run a specific flow instead of the active one")
	cmd.MarkFlagRequired("user")

	return cmd
}
