// ABOUTME: Tests for the nightlife CLI commands
// ABOUTME: Drives cobra commands against real routers served by httptest

package cli

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/nightlife/internal/agentapi"
	"github.com/2389/nightlife/internal/auth"
	"github.com/2389/nightlife/internal/config"
	"github.com/2389/nightlife/internal/logging"
	"github.com/2389/nightlife/internal/principalapi"
	"github.com/2389/nightlife/internal/registry"
	"github.com/2389/nightlife/internal/respond"
	"github.com/2389/nightlife/internal/store"
)

func execute(t *testing.T, args []string, stdin string) (string, string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// keygen creates an unencrypted key pair in dir and returns the paths.
func keygen(t *testing.T, dir string) (privPath, pubPath string) {
	t.Helper()
	pubPath = filepath.Join(dir, "keys", "pub")
	out, _, err := execute(t, []string{"keygen", "--no-password", pubPath}, "")
	require.NoError(t, err)
	privPath = filepath.Join(dir, "priv")
	require.NoError(t, os.WriteFile(privPath, []byte(out), 0600))
	return privPath, pubPath
}

func TestNewRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd("1.2.3")
	assert.Equal(t, "1.2.3", root.Version)

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"keygen", "token", "agents", "dispatch", "dispatches", "topics"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
	for _, flag := range []string{"url", "key", "key-password-file", "issuer", "audience", "timeout"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %q", flag)
	}
}

func TestServiceCommands(t *testing.T) {
	agent := NewAgentCmd("")
	assert.Equal(t, "nightlife-agent", agent.Name())
	assert.Equal(t, "dev", agent.Version)
	serve, _, err := agent.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("config"))

	principal := NewPrincipalCmd("v1")
	assert.Equal(t, "nightlife-principal", principal.Name())
	_, _, err = principal.Find([]string{"health"})
	require.NoError(t, err)
}

func TestKeygen_PasswordFile(t *testing.T) {
	dir := t.TempDir()
	pwFile := filepath.Join(dir, "pw")
	require.NoError(t, os.WriteFile(pwFile, []byte("s3cret\n"), 0600))
	pubPath := filepath.Join(dir, "pub")

	out, stderr, err := execute(t, []string{"keygen", "--password-file", pwFile, pubPath}, "")
	require.NoError(t, err)
	assert.Contains(t, stderr, "encrypted")

	_, err = auth.ParsePrivateKey([]byte(out), []byte("s3cret"))
	require.NoError(t, err)
	_, err = auth.ParsePrivateKey([]byte(out), nil)
	require.Error(t, err)

	pub, err := os.ReadFile(pubPath)
	require.NoError(t, err)
	_, err = auth.ParsePublicKey(pub)
	require.NoError(t, err)
}

func TestKeygen_PasswordFromPipedStdin(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, []string{"keygen", filepath.Join(dir, "pub")}, "piped\n")
	require.NoError(t, err)
	_, err = auth.ParsePrivateKey([]byte(out), []byte("piped"))
	require.NoError(t, err)

	out, stderr, err := execute(t, []string{"keygen", filepath.Join(dir, "pub2")}, "")
	require.NoError(t, err)
	assert.Contains(t, stderr, "unencrypted")
	_, err = auth.ParsePrivateKey([]byte(out), nil)
	require.NoError(t, err)
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestKeygen_ClosedStdinMeansNoPassword(t *testing.T) {
	dir := t.TempDir()

	closedPipe, w, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, closedPipe.Close())

	for name, in := range map[string]io.Reader{
		"bad descriptor": failingReader{err: &fs.PathError{Op: "read", Path: "/dev/stdin", Err: syscall.EBADF}},
		"closed file":    closedPipe,
	} {
		t.Run(name, func(t *testing.T) {
			root := NewRootCmd("test")
			var stdout, stderr bytes.Buffer
			root.SetOut(&stdout)
			root.SetErr(&stderr)
			root.SetIn(in)
			root.SetArgs([]string{"keygen", filepath.Join(dir, strings.ReplaceAll(name, " ", "-"))})

			require.NoError(t, root.ExecuteContext(context.Background()))
			assert.Contains(t, stderr.String(), "unencrypted")
			_, err := auth.ParsePrivateKey(stdout.Bytes(), nil)
			require.NoError(t, err)
		})
	}
}

func TestToken(t *testing.T) {
	dir := t.TempDir()
	priv, pub := keygen(t, dir)

	out, _, err := execute(t, []string{"token", "--key", priv}, "")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	cell := auth.NewKeyCell()
	pubPEM, err := os.ReadFile(pub)
	require.NoError(t, err)
	require.NoError(t, cell.Store(pubPEM))

	adminAuth := config.Default(config.RolePrincipal).Auth
	verifier := auth.NewVerifier(auth.TokenSpec{Issuer: adminAuth.Issuer, Audience: adminAuth.Audience, Tolerance: adminAuth.Tolerance}, cell)
	_, err = verifier.Verify(token)
	require.NoError(t, err)

	out, _, err = execute(t, []string{"token", "--key", priv, "--for", "agent"}, "")
	require.NoError(t, err)
	agentVerifier := auth.NewVerifier(auth.TokenSpec{Issuer: auth.DefaultIssuer, Audience: auth.DefaultAudience, Tolerance: auth.DefaultTolerance}, cell)
	_, err = agentVerifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)

	_, _, err = execute(t, []string{"token"}, "")
	require.EqualError(t, err, "--key is required")

	_, _, err = execute(t, []string{"token", "--key", priv, "--for", "bogus"}, "")
	require.Error(t, err)
}

type noDispatch struct{}

func (noDispatch) Dispatch(context.Context, string) (*store.DispatchRecord, error) {
	return &store.DispatchRecord{Status: store.StatusCompleted}, nil
}

func TestAgentsCommands(t *testing.T) {
	dir := t.TempDir()
	priv, pub := keygen(t, dir)

	pubPEM, err := os.ReadFile(pub)
	require.NoError(t, err)
	cell := auth.NewKeyCell()
	require.NoError(t, cell.Store(pubPEM))
	adminAuth := config.Default(config.RolePrincipal).Auth
	verifier := auth.NewVerifier(auth.TokenSpec{Issuer: adminAuth.Issuer, Audience: adminAuth.Audience, Tolerance: adminAuth.Tolerance}, cell)

	agents := registry.New(logging.Discard())
	api := principalapi.New(agents, noDispatch{}, principalapi.Options{
		Protect: auth.HTTPAuthMiddleware(verifier, logging.Discard()),
		Log:     store.NewMockStore(),
	}, logging.Discard())
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	base := []string{"--url", srv.URL, "--key", priv}

	_, _, err = execute(t, append([]string{"agents", "list"}, "--url", srv.URL), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	out, _, err := execute(t, append(base, "agents", "list"), "")
	require.NoError(t, err)
	assert.Contains(t, out, "No agents registered.")

	pwFile := filepath.Join(dir, "agent-pw")
	require.NoError(t, os.WriteFile(pwFile, []byte("hunter2\n"), 0600))
	out, _, err = execute(t, append(base, "agents", "put", "ci",
		"--host", "http://10.0.0.5:8001", "--key-path", "/keys/ci", "--events", "deploy,build",
		"--agent-key-password-file", pwFile), "")
	require.NoError(t, err)
	assert.Contains(t, out, "registered ci")

	agent, err := agents.Get("ci")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), agent.KeyPassword)
	assert.Equal(t, []string{"build", "deploy"}, agent.Topics)

	out, _, err = execute(t, append(base, "agents", "list"), "")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "http://10.0.0.5:8001")
	assert.Contains(t, out, "build,deploy")

	out, _, err = execute(t, append(base, "agents", "get", "ci"), "")
	require.NoError(t, err)
	assert.Contains(t, out, `"key_path": "/keys/ci"`)

	_, _, err = execute(t, append(base, "agents", "delete", "ci"), "")
	require.NoError(t, err)
	assert.Equal(t, 0, agents.Len())

	_, _, err = execute(t, append(base, "agents", "delete", "ci"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent not found")

	out, _, err = execute(t, append(base, "dispatch", "deploy"), "")
	require.NoError(t, err)
	assert.Contains(t, out, "dispatched deploy")

	out, _, err = execute(t, append(base, "dispatches"), "")
	require.NoError(t, err)
	assert.Contains(t, out, "No dispatches recorded.")
}

func TestCommandsNeedURLOrLockfile(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	_, _, err := execute(t, []string{"dispatch", "deploy"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pass --url")
}

type echoTopics struct{}

func (echoTopics) Registry() (*respond.TopicRegistry, error) {
	return &respond.TopicRegistry{Topics: []respond.TopicHandlers{{Name: "deploy", Handlers: []string{"10-notify", "20-restart"}}}}, nil
}

func (echoTopics) Topic(name string) (*respond.TopicHandlers, error) {
	return &respond.TopicHandlers{Name: name, Handlers: []string{"10-notify", "20-restart"}}, nil
}

func (echoTopics) InvokeTopic(_ context.Context, topic string, payload []byte) (*respond.TopicResults, error) {
	ok, failed := 0, 3
	return &respond.TopicResults{Name: topic, Handlers: []respond.HandlerResult{
		{
			Name:   "10-notify",
			Status: respond.Status{Success: true, ExitStatus: &ok, RuntimeMS: 4},
			Stdout: respond.Output{Length: int64(len(payload)), Output: string(payload)},
		},
		{
			Name:   "20-restart",
			Status: respond.Status{ExitStatus: &failed, RuntimeMS: 9},
		},
	}}, nil
}

func TestTopicsCommands(t *testing.T) {
	api := agentapi.New(echoTopics{}, agentapi.Options{
		Authenticate: func(next http.Handler) http.Handler { return next },
	}, logging.Discard())
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	out, _, err := execute(t, []string{"--url", srv.URL, "topics", "list"}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "10-notify, 20-restart")

	out, _, err = execute(t, []string{"--url", srv.URL, "topics", "show", "deploy"}, "")
	require.NoError(t, err)
	assert.Equal(t, "10-notify\n20-restart\n", out)

	out, _, err = execute(t, []string{"--url", srv.URL, "topics", "post", "deploy"}, "from stdin")
	require.NoError(t, err)
	assert.Contains(t, out, "10-notify: ok (4ms)")
	assert.Contains(t, out, "    from stdin")
	assert.Contains(t, out, "20-restart: exit 3 (9ms)")

	out, _, err = execute(t, []string{"--url", srv.URL, "topics", "post", "deploy", "--data", "v1.2.3", "--json"}, "")
	require.NoError(t, err)
	assert.Contains(t, out, `"output": "v1.2.3"`)
}
