package cmd

import (
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedConfigMatchesSchema(t *testing.T) {
	content, err := renderConfig()
	require.NoError(t, err)
	assert.Contains(t, string(content), "1.3.6.1.4.1.99999")
	assert.NoError(t, validateConfigBytes("generated.yaml", content))
}

func TestValidateConfigBytes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"empty file", "", false},
		{"partial", "agent:\n  port: 1161\n  read_community: ops\n", false},
		{"sources", "agent:\n  allowed_sources: [127.0.0.1, 10.0.0.0/8, \"192.168.*\"]\n", false},
		{"port out of range", "agent:\n  port: 70000\n", true},
		{"bad duration", "reload:\n  debounce: soon\n", true},
		{"bad prefix", "agent:\n  oid_prefix: iso.org\n", true},
		{"unknown section", "mibs:\n  path: /opt/mibs\n", true},
		{"unknown key", "agent:\n  trap_port: 162\n", true},
		{"services range", "system:\n  services: 200\n", true},
		{"logging level", "logging:\n  level: verbose\n", true},
		{"not yaml", "agent: [unterminated\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigBytes(tt.name, []byte(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		pdu  gosnmp.SnmpPDU
		want string
	}{
		{gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("router1")}, `STRING: "router1"`},
		{gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte{0x00, 0xff}}, "STRING: 00 FF"},
		{gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: -3}, "INTEGER: -3"},
		{gosnmp.SnmpPDU{Type: gosnmp.Gauge32, Value: uint(7)}, "Gauge32: 7"},
		{gosnmp.SnmpPDU{Type: gosnmp.TimeTicks, Value: uint32(150)}, "Timeticks: (150) 1.5s"},
		{gosnmp.SnmpPDU{Type: gosnmp.NoSuchObject}, "No Such Object available on this agent at this OID"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatValue(tt.pdu))
	}
}

func TestClientVersion(t *testing.T) {
	_, err := clientOptions{target: "127.0.0.1", port: 161, version: "3"}.connect()
	assert.Error(t, err)
}
