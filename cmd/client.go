package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/spf13/cobra"
)

// clientOptions are the flags shared by the query commands.
type clientOptions struct {
	target    string
	port      uint16
	community string
	version   string
	timeout   time.Duration
	retries   int
}

var queryOptions clientOptions

func addClientFlags(cmd *cobra.Command, opts *clientOptions) {
	cmd.Flags().StringVarP(&opts.target, "target", "t", "127.0.0.1", "Agent address")
	cmd.Flags().Uint16VarP(&opts.port, "port", "p", 161, "Agent UDP port")
	cmd.Flags().StringVar(&opts.community, "community", "public", "Community string")
	cmd.Flags().StringVarP(&opts.version, "version", "V", "2c", "SNMP version (1 or 2c)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Second, "Request timeout")
	cmd.Flags().IntVar(&opts.retries, "retries", 1, "Retries per request")
}

// connect opens a gosnmp session on the configured agent.
func (o clientOptions) connect() (*gosnmp.GoSNMP, error) {
	var version gosnmp.SnmpVersion
	switch o.version {
	case "1", "v1":
		version = gosnmp.Version1
	case "2c", "v2c":
		version = gosnmp.Version2c
	default:
		return nil, fmt.Errorf("unsupported SNMP version %q", o.version)
	}

	client := &gosnmp.GoSNMP{
		Target:    o.target,
		Port:      o.port,
		Community: o.community,
		Version:   version,
		Timeout:   o.timeout,
		Retries:   o.retries,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s:%d: %w", o.target, o.port, err)
	}
	return client, nil
}

// printVariable writes one binding in "OID = TYPE: value" form.
func printVariable(w io.Writer, v gosnmp.SnmpPDU) {
	fmt.Fprintf(w, "%s = %s\n", v.Name, formatValue(v))
}

func formatValue(v gosnmp.SnmpPDU) string {
	switch v.Type {
	case gosnmp.OctetString:
		b, _ := v.Value.([]byte)
		return "STRING: " + quote(b)
	case gosnmp.Integer:
		return fmt.Sprintf("INTEGER: %v", v.Value)
	case gosnmp.Counter32:
		return fmt.Sprintf("Counter32: %v", v.Value)
	case gosnmp.Gauge32:
		return fmt.Sprintf("Gauge32: %v", v.Value)
	case gosnmp.Counter64:
		return fmt.Sprintf("Counter64: %v", v.Value)
	case gosnmp.TimeTicks:
		ticks := gosnmp.ToBigInt(v.Value).Uint64()
		return fmt.Sprintf("Timeticks: (%d) %s", ticks, time.Duration(ticks)*10*time.Millisecond)
	case gosnmp.ObjectIdentifier:
		return fmt.Sprintf("OID: %v", v.Value)
	case gosnmp.IPAddress:
		return fmt.Sprintf("IpAddress: %v", v.Value)
	case gosnmp.Null:
		return "NULL"
	case gosnmp.NoSuchObject:
		return "No Such Object available on this agent at this OID"
	case gosnmp.NoSuchInstance:
		return "No Such Instance currently exists at this OID"
	case gosnmp.EndOfMibView:
		return "No more variables left in this MIB View"
	default:
		return fmt.Sprintf("%s: %v", v.Type, v.Value)
	}
}

func quote(b []byte) string {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("% X", b)
		}
	}
	return `"` + strings.ReplaceAll(string(b), `"`, `\"`) + `"`
}
