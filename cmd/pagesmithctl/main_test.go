package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestAttachmentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>hi</p>"), 0o600))

	a, err := attachmentFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "page.html", a.Name)
	assert.Equal(t, "data:text/html;base64,PHA+aGk8L3A+", a.URL)
	assert.True(t, a.IsDataURI())

	_, err = attachmentFromFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSend(t *testing.T) {
	var got task.Request
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("X-Invocation-ID", "inv-1")
		_, _ = w.Write([]byte(`{"repo_url":"https://github.com/o/r"}`))
	}))
	defer srv.Close()

	attach := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(attach, []byte("hello"), 0o600))

	out, err := execute(t, srv.URL, "send",
		"--email", "a@example.com", "--task", "calc", "--nonce", "n1",
		"--brief", "Build it", "--check", "one", "--check", "two",
		"--evaluation-url", "https://eval.example.com", "--attach", attach)
	require.NoError(t, err)

	assert.Equal(t, "/api-endpoint", gotPath)
	assert.Equal(t, "calc", got.Task)
	assert.Equal(t, 1, got.Round)
	assert.Equal(t, []string{"one", "two"}, got.Checks)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "note.txt", got.Attachments[0].Name)
	assert.Contains(t, out, `"repo_url": "https://github.com/o/r"`)
}

func TestSend_RequestFileAndSecret(t *testing.T) {
	var got task.Request
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"Failed at step 'code generation': boom"}`))
	}))
	defer srv.Close()

	reqFile := filepath.Join(t.TempDir(), "task.json")
	require.NoError(t, os.WriteFile(reqFile, []byte(`{"email":"a@example.com","task":"calc","round":1,"nonce":"n1","brief":"b","checks":["c"],"evaluation_url":"https://e"}`), 0o600))

	out, err := execute(t, srv.URL, "send", "--request", reqFile, "--round", "2", "--secret", "shh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	assert.Equal(t, "/handle_task", gotPath)
	assert.Equal(t, 2, got.Round)
	assert.Equal(t, "calc", got.Task)
	assert.Equal(t, "shh", got.Secret)
	assert.Contains(t, out, "code generation")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: healthy")

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	_, err = execute(t, down.URL, "health")
	assert.Error(t, err)
}
