package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stackpilot/stackpilot/internal/api/handlers"
	"github.com/stackpilot/stackpilot/internal/auth"
	"github.com/stackpilot/stackpilot/internal/backup"
	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/runner"
)

func testRouter(t *testing.T) (*httptest.Server, *config.Config, *runner.MockRunner) {
	t.Helper()
	cfg := config.Default()
	cfg.Backup.Root = t.TempDir()
	cfg.API.JWTSecret = "test-secret"

	hash, err := auth.HashPassword("correct horse", 4)
	if err != nil {
		t.Fatal(err)
	}
	cfg.API.AdminPasswordHash = hash

	jwt, err := auth.NewJWTManager(cfg.API.JWTSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	mock := runner.NewMockRunner()
	h := handlers.New(cfg, mock, jwt)
	h.Manager = backup.NewManager(cfg, mock, nil)
	h.Restorer = backup.NewRestorer(cfg, mock, nil)

	server := httptest.NewServer(NewRouter(h))
	t.Cleanup(server.Close)
	return server, cfg, mock
}

func login(t *testing.T, server *httptest.Server, username, password string) (*http.Response, string) {
	t.Helper()
	body := strings.NewReader(`{"username":"` + username + `","password":"` + password + `"}`)
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp, ""
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return resp, out.Token
}

func authedGet(t *testing.T, server *httptest.Server, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	server, _, _ := testRouter(t)
	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	server, _, _ := testRouter(t)
	resp, _ := login(t, server, "admin", "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login = %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server, _, _ := testRouter(t)
	resp, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}
}

func TestStatusWithToken(t *testing.T) {
	server, cfg, mock := testRouter(t)
	mock.Handle("podman inspect --format", func(runner.Invocation) (runner.Result, error) {
		return runner.Result{Stdout: "running\n"}, nil
	})

	// A complete backup so the status carries latest_backup.
	dir := filepath.Join(cfg.Backup.Root, "backup_20250301_020000")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := backup.WriteManifest(dir, backup.Manifest{CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	resp, token := login(t, server, "admin", "correct horse")
	if token == "" {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	statusResp := authedGet(t, server, "/api/status", token)
	defer statusResp.Body.Close()
	if statusResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", statusResp.StatusCode)
	}

	var body struct {
		Containers   map[string]string `json:"containers"`
		LatestBackup *struct {
			Name string `json:"name"`
		} `json:"latest_backup"`
	}
	if err := json.NewDecoder(statusResp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Containers["mysql"] != "running" {
		t.Fatalf("containers = %v", body.Containers)
	}
	if body.LatestBackup == nil || body.LatestBackup.Name != "backup_20250301_020000" {
		t.Fatalf("latest backup missing: %+v", body.LatestBackup)
	}
}

func TestListBackups(t *testing.T) {
	server, cfg, _ := testRouter(t)
	dir := filepath.Join(cfg.Backup.Root, "backup_20250101_020000")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	_, token := login(t, server, "admin", "correct horse")
	resp := authedGet(t, server, "/api/backups", token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("backups = %d", resp.StatusCode)
	}

	var body struct {
		Backups []struct {
			Name     string `json:"name"`
			Complete bool   `json:"complete"`
		} `json:"backups"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Backups) != 1 || body.Backups[0].Complete {
		t.Fatalf("backups = %+v", body.Backups)
	}
}

func TestTriggerRestoreRejectsMissingBackup(t *testing.T) {
	server, _, _ := testRouter(t)
	_, token := login(t, server, "admin", "correct horse")

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/restore", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("restore with no backups = %d", resp.StatusCode)
	}
}
