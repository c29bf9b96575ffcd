package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestMigrateAppliesSchemaToStateDB(t *testing.T) {
	dir := t.TempDir()
	setTestEnv(t, dir)

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, runMigrate(cmd, nil))
	require.FileExists(t, filepath.Join(dir, "state.db"))
	require.Contains(t, out.String(), "schema applied")
}
