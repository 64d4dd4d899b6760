package cmd

import (
	"fmt"

	"github.com/gosnmp/gosnmp"
	"github.com/spf13/cobra"
)

var walkOptions clientOptions

// walkCmd represents the walk command
var walkCmd = &cobra.Command{
	Use:   "walk [ROOT]",
	Short: "Walk an SNMP agent subtree with GetNext",
	Example: `# Walk the system group
	proteus walk --target 127.0.0.1 .1.3.6.1.2.1.1

	# Walk everything the agent serves
	proteus walk`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWalk,
}

func init() {
	rootCmd.AddCommand(walkCmd)
	addClientFlags(walkCmd, &walkOptions)
}

func runWalk(cmd *cobra.Command, args []string) error {
	root := ".1"
	if len(args) == 1 {
		root = args[0]
	}

	client, err := walkOptions.connect()
	if err != nil {
		return err
	}
	defer client.Conn.Close()

	count := 0
	err = client.Walk(root, func(v gosnmp.SnmpPDU) error {
		printVariable(cmd.OutOrStdout(), v)
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk failed after %d objects: %w", count, err)
	}
	if count == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No objects under %s\n", root)
	}
	return nil
}
