package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prologueHex = "4889e5 4881ec28010000 9090 53 4154 4883ec20 c3"

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestParseHex(t *testing.T) {
	code, err := parseHex("48 89\ne5\tc3")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x48, 0x89, 0xE5, 0xC3}, code)

	_, err = parseHex("4")
	assert.Error(t, err)
	_, err = parseHex("  ")
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	out, _, err := execute(t, "decode", "4889e5 e800000000 c3")
	require.NoError(t, err)

	assert.Contains(t, out, "mov rbp, rsp")
	assert.Contains(t, out, "e800000000")
	assert.Contains(t, out, "true")
	assert.Contains(t, out, "ret")
}

func TestDecodeUnrecognized(t *testing.T) {
	out, _, err := execute(t, "decode", "90 06")
	assert.Error(t, err)
	assert.Contains(t, out, "nop", "instructions before the failure are listed")
}

func TestPlan(t *testing.T) {
	out, _, err := execute(t, "plan", "--redirect", "absolute", prologueHex)
	require.NoError(t, err)
	assert.Contains(t, out, "stub: 12 bytes (absolute)")
	assert.Contains(t, out, "displaced: 12 bytes, tail 0")
	assert.Contains(t, out, "0x140001000")

	out, _, err = execute(t, "plan", "--redirect", "nearest", prologueHex)
	require.NoError(t, err)
	assert.Contains(t, out, "stub: 5 bytes (nearest)")
	assert.Contains(t, out, "displaced: 10 bytes, tail 5")

	assert.Contains(t, out, "warning: displaced code uses the stack", "mov rbp, rsp")

	_, _, err = execute(t, "plan", "--redirect", "far", prologueHex)
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "hooks.yaml")
	require.NoError(t, os.WriteFile(config, []byte(`
region: {base: 0x140008000, end: 0x140009000}
hooks:
  - target: 0x140001000
    replacement: 0x140004000
`), 0o600))
	image := filepath.Join(dir, "code.hex")
	require.NoError(t, os.WriteFile(image, []byte(prologueHex+"\n"), 0o600))

	out, _, err := execute(t, "simulate", "--config", config, "--image", image)
	require.NoError(t, err)
	assert.Contains(t, out, "call-through hook 0x140001000 -> 0x140004000, trampoline 0x140008000 (37 bytes)")
	assert.Contains(t, out, "48 b8 00 80 00 40 01 00  00 00 ff d0", "mov rax, trampoline; call rax")
	assert.Contains(t, out, "1 hooks installed")
}

func TestSimulateOverlap(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "hooks.yaml")
	require.NoError(t, os.WriteFile(config, []byte("region: {base: 0x140001000, end: 0x140002000}\n"), 0o600))
	image := filepath.Join(dir, "code.hex")
	require.NoError(t, os.WriteFile(image, []byte(prologueHex), 0o600))

	_, _, err := execute(t, "simulate", "--config", config, "--image", image)
	assert.ErrorContains(t, err, "overlaps image")
}

func TestMods(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "example"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example", "mod.json"),
		[]byte(`{"id": "example", "name": "Example mod", "version": "1.2", "main": "main.js"}`), 0o600))

	out, _, err := execute(t, "mods", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "example")
	assert.Contains(t, out, "Example mod")
	assert.Contains(t, out, filepath.Join(dir, "example", "main.js"))
}
