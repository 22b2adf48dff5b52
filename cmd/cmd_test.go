package cmd

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap/ni"
	"firestige.xyz/sapcraft/pkg/sap/router"
)

func run(t *testing.T, stdin []byte, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(bytes.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestStatsFlag(t *testing.T) {
	raw, err := packet.Build(ni.NewPing())
	require.NoError(t, err)
	_, errOut, err := run(t, nil, "--stats", "dissect", hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Contains(t, errOut, "sapcraft_layers_decoded_total")
}

func TestParseHex(t *testing.T) {
	b, err := parseHex("0x de:ad\nbe ef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "sapcraft.yml")
	require.NoError(t, os.WriteFile(conf, []byte(`
sapcraft:
  decode:
    max_depth: 1
`), 0644))

	raw, err := packet.Build(ni.New(router.NewPong()))
	require.NoError(t, err)
	out, _, err := run(t, nil, "--config", conf, "dissect", "--port", "3299", hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.NotContains(t, out, "[SAPRouter]", "depth 1 keeps the router payload opaque")

	_, _, err = run(t, nil, "--config", filepath.Join(dir, "missing.yml"), "layers")
	assert.Error(t, err)
}
