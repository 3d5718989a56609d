package commands

import (
	"fmt"
	"strings"

	"github.com/aegis-sentinel/topowatch/internal/common/logging"
	"github.com/aegis-sentinel/topowatch/internal/registry"
	"github.com/aegis-sentinel/topowatch/pkg/output"
	"github.com/spf13/cobra"
)

func newSignaturesCmd(logger *logging.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signatures <file>",
		Short: "Validate and list a protocol signature file",
		Long: `Load a YAML signature file, validate every rule, and print the resulting
rule set in the order the classifier would try them.

Examples:
  topowatch signatures ./signatures.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignatures(logger, args[0])
		},
	}
	return cmd
}

func runSignatures(logger *logging.Logger, path string) error {
	reg := registry.New(registry.Config{}, logger)

	count, err := reg.LoadSignatureFile(path)
	if err != nil {
		return fmt.Errorf("signature file invalid: %w", err)
	}

	fmt.Println(output.Success(fmt.Sprintf("Loaded %s from %s", output.Count(count, "signature"), path)))
	fmt.Println()

	tbl := output.NewTable("NAME", "PROTOCOL", "TRANSPORT", "PORTS", "PATTERN")
	for _, sig := range reg.Signatures() {
		ports := make([]string, 0, len(sig.Ports))
		for _, p := range sig.Ports {
			ports = append(ports, fmt.Sprintf("%d", p))
		}
		portCol := strings.Join(ports, ",")
		if portCol == "" {
			portCol = "-"
		}
		pattern := sig.Pattern
		if pattern == "" {
			pattern = "-"
		}
		transport := string(sig.Transport)
		if transport == "" {
			transport = "any"
		}
		tbl.AddRow(sig.Name, sig.Protocol, transport, portCol, pattern)
	}
	fmt.Println(tbl.Render())
	return nil
}
