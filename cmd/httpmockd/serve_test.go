package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/httpmockd/httpmockd/pkg/logging"
	"github.com/httpmockd/httpmockd/pkg/state"
)

func TestNewRootCmdDefaults(t *testing.T) {
	root := newRootCmd()
	port, err := root.Flags().GetInt("port")
	require.NoError(t, err)
	require.Equal(t, 5050, port)

	accessLog, err := root.Flags().GetBool("access-log")
	require.NoError(t, err)
	require.True(t, accessLog)

	expose, err := root.Flags().GetBool("expose")
	require.NoError(t, err)
	require.False(t, expose)
}

func TestLoadMockFilesInstallsInFilenameOrder(t *testing.T) {
	dir := t.TempDir()

	docA := "when:\n  method: GET\n  path: /a\nthen:\n  status: 200\n  body: from-a\n  body_encoding: plain\n"
	docB := "when:\n  method: GET\n  path: /a\nthen:\n  status: 200\n  body: from-b\n  body_encoding: plain\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(docB), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(docA), 0o600))

	mgr := state.NewManager(10)
	require.NoError(t, loadMockFiles(mgr, dir, logging.Nop()))

	mocks := mgr.ListMocks()
	require.Len(t, mocks, 2)
	require.Equal(t, "from-a", string(mocks[0].Response.Body))
	require.Equal(t, "from-b", string(mocks[1].Response.Body))
}

func TestLoadMockFilesMissingDir(t *testing.T) {
	mgr := state.NewManager(10)
	err := loadMockFiles(mgr, "/nonexistent/path/for/httpmockd", logging.Nop())
	require.Error(t, err)
}
