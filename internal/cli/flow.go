package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/engine"
)

var flowHeaders = []string{"ID", "NAME", "ACTIVE", "CREATED"}

func flowRow(f *FlowResponse) []string {
	return []string{f.ID, f.Name, strconv.FormatBool(f.IsActive), f.CreatedAt}
}

// NewFlowCmd создаёт группу команд для управления flows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowCreateCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowActivateCmd(clientFn, outputFn),
		newFlowDeleteCmd(clientFn, outputFn),
		newFlowVersionsCmd(clientFn, outputFn),
		newFlowPushCmd(clientFn, outputFn),
		newFlowValidateCmd(outputFn),
	)

	return cmd
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List flows of the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := clientFn().ListFlows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i := range flows {
				rows[i] = flowRow(&flows[i])
			}

			outputFn().Print(flowHeaders, rows, flows)
			return nil
		},
	}
}

func newFlowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			flow, err := clientFn().CreateFlow(CreateFlowRequest{Name: name})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow created: %s", flow.ID))
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Flow name (required)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show flow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := clientFn().GetFlow(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}
}

func newFlowActivateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var deactivate bool

	cmd := &cobra.Command{
		Use:   "activate ID",
		Short: "Make the flow the tenant's active flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			active := !deactivate
			flow, err := clientFn().UpdateFlow(args[0], UpdateFlowRequest{IsActive: &active})
			if err != nil {
				return err
			}

			if active {
				out.Success(fmt.Sprintf("Flow activated: %s", flow.ID))
			} else {
				out.Success(fmt.Sprintf("Flow deactivated: %s", flow.ID))
			}
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().BoolVar(&deactivate, "off", false, "Deactivate instead")

	return cmd
}

func newFlowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteFlow(args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Flow deleted: %s", args[0]))
			return nil
		},
	}
}

func newFlowVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions FLOW_ID",
		Short: "List flow versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := clientFn().ListVersions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"FLOW_ID", "VERSION", "NODES", "CREATED"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				nodes, _ := v.Definition["nodes"].([]any)
				rows[i] = []string{v.FlowID, strconv.Itoa(v.Version), strconv.Itoa(len(nodes)), v.CreatedAt}
			}

			outputFn().Print(headers, rows, versions)
			return nil
		},
	}
}

func newFlowPushCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		flowID   string
		name     string
		activate bool
	)

	cmd := &cobra.Command{
		Use:   "push FILE",
		Short: "Upload a flow definition (YAML or JSON) as a new flow or a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			doc, warnings, err := loadFlowFile(args[0])
			if err != nil {
				return err
			}
			printWarnings(out, warnings)

			client := clientFn()
			if doc.TenantID != "" && client.tenant == "" {
				client.tenant = doc.TenantID
			}

			// Новая версия существующего flow
			if flowID != "" {
				version, err := client.CreateVersion(flowID, doc.Definition)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Version %d pushed for flow %s", version.Version, version.FlowID))

				if activate {
					on := true
					if _, err := client.UpdateFlow(flowID, UpdateFlowRequest{IsActive: &on}); err != nil {
						return err
					}
					out.Success("Flow activated")
				}

				out.Print(
					[]string{"FLOW_ID", "VERSION", "CREATED"},
					[][]string{{version.FlowID, strconv.Itoa(version.Version), version.CreatedAt}},
					version,
				)
				return nil
			}

			// Новый flow с первой версией
			if name == "" {
				name = doc.Name
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			def := doc.Definition
			flow, err := client.CreateFlow(CreateFlowRequest{Name: name, Definition: &def, Activate: activate})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow created: %s", flow.ID))
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVar(&flowID, "flow", "", "Existing flow ID (push a new version)")
	cmd.Flags().StringVar(&name, "name", "", "Name for a new flow (default: document name or file name)")
	cmd.Flags().BoolVar(&activate, "activate", false, "Activate the flow after upload")

	return cmd
}

func newFlowValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a flow definition locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read flow file: %w", err)
			}
			doc, err := domain.ParseFlowDocument(data)
			if err != nil {
				return err
			}

			report := engine.Report(&doc.Definition)
			if out.jsonMode {
				out.JSON(report)
			} else {
				printWarnings(out, report.Warnings)
				if report.Valid {
					out.Text(fmt.Sprintf("%s: valid (%d nodes, %d edges)", args[0], len(doc.Definition.Nodes), len(doc.Definition.Edges)))
				}
			}

			if !report.Valid {
				return fmt.Errorf("%s: %s", args[0], report.Error)
			}
			return nil
		},
	}
}

// loadFlowFile читает и проверяет файл flow.
func loadFlowFile(path string) (*domain.FlowDocument, []engine.Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read flow file: %w", err)
	}

	doc, err := domain.ParseFlowDocument(data)
	if err != nil {
		return nil, nil, err
	}

	warnings, err := engine.Validate(&doc.Definition)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, warnings, nil
}

func printWarnings(out *Output, warnings []engine.Warning) {
	for _, w := range warnings {
		out.Warn(w.String())
	}
}
