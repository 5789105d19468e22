package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/fedchat/internal/config"
)

func clearServerEnvVarsForTest(t *testing.T) {
	t.Helper()
	for _, key := range []string{"FEDCHAT_LISTEN", "FEDCHAT_INSTANCE_ID", "FEDCHAT_DB_PATH", "OTHER_VAR"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadServerEnvFromDotEnvLoadsMissingFedchatVars(t *testing.T) {
	clearServerEnvVarsForTest(t)
	path := writeEnvFile(t, "FEDCHAT_INSTANCE_ID=from-file\nOTHER_VAR=skip\n")

	loadServerEnvFromDotEnv(path)

	assert.Equal(t, "from-file", os.Getenv("FEDCHAT_INSTANCE_ID"))
	assert.Empty(t, os.Getenv("OTHER_VAR"))
}

func TestLoadServerEnvFromDotEnvKeepsExistingEnv(t *testing.T) {
	clearServerEnvVarsForTest(t)
	t.Setenv("FEDCHAT_INSTANCE_ID", "from-env")
	path := writeEnvFile(t, "FEDCHAT_INSTANCE_ID=from-file\n")

	loadServerEnvFromDotEnv(path)

	assert.Equal(t, "from-env", os.Getenv("FEDCHAT_INSTANCE_ID"))
}

func TestServerConfigPrefersCLIFlagsOverDotEnv(t *testing.T) {
	clearServerEnvVarsForTest(t)
	path := writeEnvFile(t, "FEDCHAT_INSTANCE_ID=from-file\nFEDCHAT_DB_PATH=./from-file.db\n")

	loadServerEnvFromDotEnv(path)
	cfg, err := config.ParseServerFlags([]string{"--instance-id", "from-cli", "--db", "./from-cli.db"})
	require.NoError(t, err)

	assert.Equal(t, "from-cli", cfg.InstanceID)
	assert.Equal(t, "./from-cli.db", cfg.DBPath)
}

func TestParseEnvAssignment(t *testing.T) {
	tests := []struct {
		line      string
		key, want string
		ok        bool
	}{
		{line: "FEDCHAT_LISTEN=:3002", key: "FEDCHAT_LISTEN", want: ":3002", ok: true},
		{line: "export FEDCHAT_LISTEN = ':3003'", key: "FEDCHAT_LISTEN", want: ":3003", ok: true},
		{line: `FEDCHAT_INSTANCE_ID="alpha"`, key: "FEDCHAT_INSTANCE_ID", want: "alpha", ok: true},
		{line: "# comment"},
		{line: "   "},
		{line: "NO_EQUALS"},
		{line: "BAD KEY=1"},
	}
	for _, tt := range tests {
		key, value, ok := parseEnvAssignment(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.key, key, tt.line)
		assert.Equal(t, tt.want, value, tt.line)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	assert.Equal(t, 2, Run([]string{"bogus"}))
	assert.Equal(t, 0, Run([]string{"version"}))
}
