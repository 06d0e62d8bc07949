package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranspileThenRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.pvm.s")
	require.NoError(t, os.WriteFile(src, []byte("PUSH 3\nPUSH 4\nIADD\nITOA\nFFCALL println\nHALT\n"), 0o644))

	out := filepath.Join(dir, "prog.bc")
	transpile := newRootCommand()
	transpile.SetArgs([]string{"transpile", src, "-o", out})
	require.NoError(t, transpile.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var stdout bytes.Buffer
	run := newRootCommand()
	run.SetOut(&stdout)
	run.SetArgs([]string{"run", out})
	require.NoError(t, run.Execute())
	require.Equal(t, "7\n", stdout.String())
}
