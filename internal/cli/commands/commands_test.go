package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/ntvfs"
)

// runCmd executes the root command with args against an isolated config
// directory using the badger attribute store.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PVFS_CONFIG_DIR", t.TempDir())
	t.Setenv("PVFS_POSIX_XATTR_BACKEND", "badger")
	configPath, logLevel = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMangleCommand(t *testing.T) {
	out, err := runCmd(t, "mangle", "README.TXT", "Quarterly Report.xlsx")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "README.TXT"))
	short := strings.Fields(lines[1])[0]
	assert.Len(t, short, 12)
	assert.Equal(t, byte('~'), short[6])
	assert.True(t, strings.HasSuffix(short, ".XLS"))

	_, err = runCmd(t, "mangle")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	out, err := runCmd(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "settings.yaml")

	out, err = runCmd(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "xattr_backend: badger")
	assert.Contains(t, out, "name: share")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("posix:\n  acl: nope\n"), 0600))
	_, err = runCmd(t, "--config", path, "config", "show")
	assert.Error(t, err)
}

func TestStreamsAndDosattrCommands(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0644))

	out, err := runCmd(t, "streams", file)
	require.NoError(t, err)
	assert.Contains(t, out, "::$DATA")
	assert.Contains(t, out, " 5 ")

	out, err = runCmd(t, "dosattr", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Name:        report.txt")
	assert.Contains(t, out, "Size:        5")

	_, err = runCmd(t, "dosattr", filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFormatAttrib(t *testing.T) {
	t.Parallel()
	tests := []struct {
		attrib uint32
		want   string
	}{
		{0, "----------"},
		{ntvfs.AttrReadOnly | ntvfs.AttrArchive, "R---A-----"},
		{ntvfs.AttrDirectory | ntvfs.AttrHidden, "-H-D------"},
		{ntvfs.AttrNotContentIndexed, "---------I"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAttrib(tt.attrib))
	}
}

func TestVersionString(t *testing.T) {
	SetVersion("1.2.3", "abc", "notanepoch")
	assert.Equal(t, "1.2.3 (notanepoch)", rootCmd.Version)
	SetVersion("1.2.3-dev", "abc", "1700000000")
	assert.True(t, strings.HasPrefix(rootCmd.Version, "1.2.3-dev (2023-11-1"), rootCmd.Version)
	assert.Contains(t, rootCmd.Version, "commit: abc")
}
