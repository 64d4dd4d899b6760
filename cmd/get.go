package cmd

import (
	"fmt"

	"github.com/gosnmp/gosnmp"
	"github.com/spf13/cobra"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get OID [OID...]",
	Short: "Query objects from an SNMP agent",
	Example: `# Read the system name
	proteus get --target 127.0.0.1 .1.3.6.1.2.1.1.5.0

	# Several objects with SNMPv1
	proteus get -V 1 .1.3.6.1.2.1.1.1.0 .1.3.6.1.2.1.1.3.0`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
	addClientFlags(getCmd, &queryOptions)
}

func runGet(cmd *cobra.Command, args []string) error {
	client, err := queryOptions.connect()
	if err != nil {
		return err
	}
	defer client.Conn.Close()

	result, err := client.Get(args)
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	if result.Error != gosnmp.NoError {
		return fmt.Errorf("agent returned %s at index %d", result.Error, result.ErrorIndex)
	}

	for _, v := range result.Variables {
		printVariable(cmd.OutOrStdout(), v)
	}
	return nil
}
