package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

func newTestClient(t *testing.T, handler http.Handler) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var token config.Secret
	require.NoError(t, token.UnmarshalText([]byte("ghp_testtoken")))

	c, err := NewClient(context.Background(), config.GitHubConfig{
		Token:             token,
		APIURL:            srv.URL,
		RequestsPerSecond: 1000,
		RetryMaxAttempts:  3,
		RetryInitial:      time.Millisecond,
		RetryMax:          5 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var testRepo = task.Repository{Owner: "octocat", Name: "calc-1-a-n1234", DefaultBranch: "main"}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(context.Background(), config.GitHubConfig{}, nil)
	assert.Error(t, err)
}

func TestAuthenticatedUser(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		assert.Equal(t, "Bearer ghp_testtoken", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"login": "octocat"})
	}))

	login, err := c.AuthenticatedUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", login)
}

func TestCreateRepository(t *testing.T) {
	t.Run("sends creation options", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/user/repos", r.URL.Path)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "calc-1-a-n1234", body["name"])
			assert.Equal(t, true, body["auto_init"])
			assert.Equal(t, false, body["private"])
			assert.Equal(t, "mit", body["license_template"])

			writeJSON(w, http.StatusCreated, map[string]any{
				"name":           "calc-1-a-n1234",
				"html_url":       "https://github.com/octocat/calc-1-a-n1234",
				"default_branch": "main",
				"owner":          map[string]any{"login": "octocat"},
			})
		}))

		repo, err := c.CreateRepository(context.Background(), CreateRepositoryOptions{
			Name: "calc-1-a-n1234", AutoInit: true, LicenseTemplate: "mit",
		})
		require.NoError(t, err)
		assert.Equal(t, testRepo.Owner, repo.Owner)
		assert.Equal(t, "main", repo.DefaultBranch)
		assert.Equal(t, "https://github.com/octocat/calc-1-a-n1234", repo.HTMLURL)
	})

	t.Run("existing name maps to ErrAlreadyExists without retry", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"message": "Repository creation failed.",
				"errors": []map[string]any{{
					"resource": "Repository", "code": "custom", "field": "name",
					"message": "name already exists on this account",
				}},
			})
		}))

		_, err := c.CreateRepository(context.Background(), CreateRepositoryOptions{Name: "dup"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("auth failure is not benign", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
		}))

		_, err := c.CreateRepository(context.Background(), CreateRepositoryOptions{Name: "x"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestGetFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octocat/calc-1-a-n1234/contents/index.html":
			assert.Equal(t, "main", r.URL.Query().Get("ref"))
			writeJSON(w, http.StatusOK, map[string]any{
				"type":     "file",
				"encoding": "base64",
				"path":     "index.html",
				"sha":      "abc123",
				"content":  base64.StdEncoding.EncodeToString([]byte("<h1>hi</h1>")),
			})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		}
	}))

	file, err := c.GetFile(context.Background(), testRepo, "index.html")
	require.NoError(t, err)
	assert.Equal(t, "abc123", file.SHA)
	assert.Equal(t, "<h1>hi</h1>", string(file.Content))

	_, err = c.GetFile(context.Background(), testRepo, "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetFile_LargeFileReadsBlob(t *testing.T) {
	var blobAccept string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octocat/calc-1-a-n1234/contents/big.png":
			writeJSON(w, http.StatusOK, map[string]any{
				"type":     "file",
				"encoding": "none",
				"path":     "big.png",
				"sha":      "abc123",
				"content":  "",
			})
		case "/repos/octocat/calc-1-a-n1234/git/blobs/abc123":
			blobAccept = r.Header.Get("Accept")
			_, _ = w.Write([]byte("PNGDATA"))
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		}
	}))

	file, err := c.GetFile(context.Background(), testRepo, "big.png")
	require.NoError(t, err)
	assert.Equal(t, "abc123", file.SHA)
	assert.Equal(t, "PNGDATA", string(file.Content))
	assert.Contains(t, blobAccept, "raw")
}

func TestPutFile(t *testing.T) {
	var bodies []map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		bodies = append(bodies, body)
		writeJSON(w, http.StatusOK, map[string]any{
			"content": map[string]any{"path": "index.html"},
			"commit":  map[string]any{"sha": fmt.Sprintf("commit-%d", len(bodies))},
		})
	}))

	sha, err := c.PutFile(context.Background(), testRepo, PutFileRequest{
		Path: "index.html", Content: []byte("new"), Message: "Create index.html",
	})
	require.NoError(t, err)
	assert.Equal(t, "commit-1", sha)

	sha, err = c.PutFile(context.Background(), testRepo, PutFileRequest{
		Path: "index.html", Content: []byte("newer"), SHA: "abc123", Message: "Update index.html",
	})
	require.NoError(t, err)
	assert.Equal(t, "commit-2", sha)

	require.Len(t, bodies, 2)
	_, hasSHA := bodies[0]["sha"]
	assert.False(t, hasSHA, "create must omit the content token")
	assert.Equal(t, "abc123", bodies[1]["sha"])
	assert.Equal(t, "main", bodies[1]["branch"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("newer")), bodies[1]["content"])
}

func TestEnablePages(t *testing.T) {
	t.Run("sends legacy build source", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/octocat/calc-1-a-n1234/pages", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "legacy", body["build_type"])
			source := body["source"].(map[string]any)
			assert.Equal(t, "main", source["branch"])
			assert.Equal(t, "/", source["path"])
			writeJSON(w, http.StatusCreated, map[string]any{"url": "x"})
		}))

		err := c.EnablePages(context.Background(), testRepo, PagesOptions{BuildType: "legacy", Path: "/"})
		assert.NoError(t, err)
	})

	t.Run("conflict maps to ErrAlreadyEnabled", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{"message": "GitHub Pages is already enabled."})
		}))

		err := c.EnablePages(context.Background(), testRepo, PagesOptions{Path: "/"})
		assert.ErrorIs(t, err, ErrAlreadyEnabled)
	})
}

func TestLatestCommit(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/calc-1-a-n1234/commits/main", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "0123456789abcdef0123456789abcdef01234567")
	}))

	sha, err := c.LatestCommit(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", sha)
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusBadGateway, map[string]any{"message": "bad gateway"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"login": "octocat"})
	}))

	login, err := c.AuthenticatedUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", login)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCall_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "unavailable"})
	}))

	_, err := c.AuthenticatedUser(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), calls.Load())
}
