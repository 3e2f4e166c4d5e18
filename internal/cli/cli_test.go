package cli

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	cmd := &GenerateSecret{Size: 32, output: buf}

	require.NoError(t, cmd.Run(nil, "dev"))

	line := strings.TrimSpace(buf.String())
	require.True(t, strings.HasPrefix(line, "hex:"), line)

	decoded, err := hex.DecodeString(strings.TrimPrefix(line, "hex:"))
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	buf.Reset()

	cmd.Base64 = true
	require.NoError(t, cmd.Run(nil, "dev"))
	assert.True(t, strings.HasPrefix(buf.String(), "base64:"))

	cmd.Size = 8
	assert.Error(t, cmd.Run(nil, "dev"))
}

func TestCheckPath(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	cmd := &CheckPath{
		Paths:  []string{"/api/profile", "/.env"},
		output: buf,
	}

	assert.ErrorIs(t, cmd.Run(nil, "dev"), errSuspiciousPaths)
	assert.Equal(t, "ok\t-\t/api/profile\nsuspicious\t.env\t/.env\n", buf.String())

	buf.Reset()

	cmd.Paths = []string{"/", "/auth/signin"}
	assert.NoError(t, cmd.Run(nil, "dev"))
}

func TestCheckPathWithConfig(t *testing.T) { //nolint: paralleltest
	t.Setenv("REQGUARD_SECRET", "")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
secret = "0123456789abcdef0123456789abcdef"
bindTo = "127.0.0.1:8080"

[defense]
threatSignatures = ["/actuator"]
`), 0o600))

	buf := &bytes.Buffer{}
	cmd := &CheckPath{
		Paths:      []string{"/actuator/env"},
		ConfigPath: path,
		output:     buf,
	}

	assert.ErrorIs(t, cmd.Run(nil, "dev"), errSuspiciousPaths)
	assert.Contains(t, buf.String(), "suspicious\t/actuator\t/actuator/env")
}

func TestLoadEnv(t *testing.T) { //nolint: paralleltest
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("REQGUARD_TEST_VALUE=42\n"), 0o600))

	t.Setenv("REQGUARD_TEST_VALUE", "")
	os.Unsetenv("REQGUARD_TEST_VALUE")

	require.NoError(t, loadEnv(path))
	assert.Equal(t, "42", os.Getenv("REQGUARD_TEST_VALUE"))

	assert.Error(t, loadEnv(filepath.Join(t.TempDir(), "absent.env")))
}
