// ABOUTME: Tests for the kiwi CLI: each subcommand runs against an in-process development backend.
package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/kiwi/devserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, token string) *devserver.Server {
	t.Helper()
	srv := devserver.New(devserver.Config{
		Token:     token,
		StepDelay: 20 * time.Millisecond,
		Logger:    log.New(io.Discard, "", 0),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	t.Setenv("KIWI_HOME", t.TempDir())
	t.Setenv("KIWI_API_BASE_URL", ts.URL)
	t.Setenv("KIWI_CREDENTIAL_BACKEND", "memory")
	t.Setenv("KIWI_USER", "tester")
	return srv
}

func runKiwi(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out, &errOut)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestSendCreatesApplicationAndReportsPreview(t *testing.T) {
	srv := newTestBackend(t, "")

	out, _, err := runKiwi(t, "send", "build", "a", "todo", "app")
	require.NoError(t, err)
	assert.Contains(t, out, "› build a todo app")
	assert.Contains(t, out, "backend")
	assert.Contains(t, out, "✓ SUCCESSFUL")
	assert.Contains(t, out, "/preview/")

	page := srv.Store().SearchApplications("", 1, 10)
	require.Len(t, page.Items, 1)
	app := page.Items[0]
	assert.Equal(t, "Build A Todo App", app.Name)
	assert.Contains(t, out, "app:     "+app.ID)
	assert.Contains(t, out, "created application "+app.ID)

	out, _, err = runKiwi(t, "apps", "list")
	require.NoError(t, err)
	assert.Contains(t, out, app.ID)
	assert.Contains(t, out, "Build A Todo App")

	out, _, err = runKiwi(t, "history", app.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESSFUL")
	assert.Contains(t, out, "build a todo app")
}

func TestSendContinuesExistingApplication(t *testing.T) {
	srv := newTestBackend(t, "")

	_, _, err := runKiwi(t, "send", "build a blog")
	require.NoError(t, err)
	appID := srv.Store().SearchApplications("", 1, 10).Items[0].ID

	out, _, err := runKiwi(t, "send", "--app", appID, "--skip-pages", "add comments")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ SUCCESSFUL")
	assert.NotContains(t, out, "frontend")
	assert.NotContains(t, out, "created application")

	out, _, err = runKiwi(t, "history", appID)
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "build a blog"), strings.Index(out, "add comments"), "history is oldest first")
	assert.Len(t, srv.Store().SearchApplications("", 1, 10).Items, 1)
}

func TestSendReportsFailure(t *testing.T) {
	newTestBackend(t, "")

	out, _, err := runKiwi(t, "send", "break it "+devserver.FailMarker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, "FAILED")
}

func TestSendRejectsBlankPrompt(t *testing.T) {
	newTestBackend(t, "")
	_, _, err := runKiwi(t, "send", "   ")
	require.Error(t, err)
}

func TestRevertLatestExchange(t *testing.T) {
	srv := newTestBackend(t, "")

	_, _, err := runKiwi(t, "send", "build a shop")
	require.NoError(t, err)
	appID := srv.Store().SearchApplications("", 1, 10).Items[0].ID
	history := srv.Store().History(appID, "", 1, 10)
	require.Len(t, history.Items, 1)

	out, _, err := runKiwi(t, "revert", history.Items[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Reverted")

	out, _, err = runKiwi(t, "history", appID)
	require.NoError(t, err)
	assert.Contains(t, out, "REVERTED")
}

func TestAppsRenameAndDelete(t *testing.T) {
	srv := newTestBackend(t, "")

	out, _, err := runKiwi(t, "apps", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No applications.")

	_, _, err = runKiwi(t, "send", "build a blog")
	require.NoError(t, err)
	appID := srv.Store().SearchApplications("", 1, 10).Items[0].ID

	out, _, err = runKiwi(t, "apps", "rename", appID, "My", "Blog")
	require.NoError(t, err)
	assert.Contains(t, out, `"My Blog"`)
	assert.Contains(t, out, appID+"  My Blog", "the refreshed list shows the new name")

	out, _, err = runKiwi(t, "apps", "list", "--search", "my b")
	require.NoError(t, err)
	assert.Contains(t, out, "My Blog")

	out, _, err = runKiwi(t, "apps", "list", "--search", "nothing like it")
	require.NoError(t, err)
	assert.Contains(t, out, "No applications.")

	_, _, err = runKiwi(t, "apps", "delete", appID)
	require.NoError(t, err)
	assert.Empty(t, srv.Store().SearchApplications("", 1, 10).Items)

	_, _, err = runKiwi(t, "apps", "delete", appID)
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	newTestBackend(t, "")

	out, _, err := runKiwi(t, "login", "--password", devserver.DefaultPassword)
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as tester.")

	_, _, err = runKiwi(t, "login", "--user", "someone", "--password", "wrong")
	require.Error(t, err)

	out, _, err = runKiwi(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out.")
}

func TestUnauthorizedPointsAtLogin(t *testing.T) {
	newTestBackend(t, "secret")

	_, errOut, err := runKiwi(t, "apps", "list")
	require.Error(t, err)
	assert.Contains(t, errOut, "kiwi login")
}

func TestPreviewPreferencePersists(t *testing.T) {
	newTestBackend(t, "")

	out, _, err := runKiwi(t, "preview")
	require.NoError(t, err)
	assert.Contains(t, out, "Preview: on")

	out, _, err = runKiwi(t, "preview", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "Preview: off")

	out, _, err = runKiwi(t, "preview")
	require.NoError(t, err)
	assert.Contains(t, out, "Preview: off")

	_, _, err = runKiwi(t, "preview", "maybe")
	require.Error(t, err)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n  b\tc", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}
