package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFlags struct {
	listen  string
	secret  string
	origins []string
	timeout time.Duration
	limit   int
}

func newTestCommand() (*cobra.Command, *testFlags) {
	v := &testFlags{}
	cmd := &cobra.Command{Use: "test"}
	flags := cmd.PersistentFlags()
	flags.StringVar(&v.listen, "listen-address", ":8080", "")
	flags.StringVar(&v.secret, "auth-secret", "", "")
	flags.StringSliceVar(&v.origins, "allowed-origins", nil, "")
	flags.DurationVar(&v.timeout, "answer-timeout", time.Second, "")
	flags.IntVar(&v.limit, "queries-per-minute", 20, "")
	return cmd, v
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSetFlagsFromConfigFile(t *testing.T) {
	path := writeConfig(t, `
listen-address: ":9443"
auth-secret: from-file
allowed-origins:
  - https://buddybot.dev
  - https://app.buddybot.dev
answer-timeout: 45s
queries-per-minute: 10
`)

	cmd, v := newTestCommand()
	require.NoError(t, cmd.PersistentFlags().Set("auth-secret", "from-flag"))
	require.NoError(t, setFlagsFromConfigFile(cmd.PersistentFlags(), path))

	assert.Equal(t, ":9443", v.listen)
	assert.Equal(t, "from-flag", v.secret, "explicit flags win over the file")
	assert.Equal(t, []string{"https://buddybot.dev", "https://app.buddybot.dev"}, v.origins)
	assert.Equal(t, 45*time.Second, v.timeout)
	assert.Equal(t, 10, v.limit)
}

func TestSetFlagsFromConfigFileErrors(t *testing.T) {
	cmd, _ := newTestCommand()

	err := setFlagsFromConfigFile(cmd.PersistentFlags(), writeConfig(t, "unknown-key: 1\n"))
	assert.ErrorContains(t, err, "unknown config key")

	err = setFlagsFromConfigFile(cmd.PersistentFlags(), writeConfig(t, "queries-per-minute: many\n"))
	assert.Error(t, err)

	err = setFlagsFromConfigFile(cmd.PersistentFlags(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate(), "a secret is required")
	assert.NoError(t, Config{DevAuth: true}.Validate())
	assert.NoError(t, Config{AuthSecret: "secret"}.Validate())
	assert.Error(t, Config{AuthSecret: "secret", TlsCertFile: "cert.pem"}.Validate())
	assert.Error(t, Config{
		AuthSecret:         "secret",
		TlsCertFile:        "cert.pem",
		TlsKeyFile:         "key.pem",
		LetsencryptDataDir: "/var/lib/buddybot",
		LetsencryptDomains: []string{"relay.buddybot.dev"},
	}.Validate())
}

func TestCreateAnswerer(t *testing.T) {
	a, err := createAnswerer(&Config{})
	require.NoError(t, err)
	assert.NotNil(t, a)

	a, err = createAnswerer(&Config{OpenAIKey: "sk-test", AnswerCache: time.Minute})
	require.NoError(t, err)
	assert.NotNil(t, a)
}
