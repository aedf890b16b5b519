package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieba-mod/moderator/internal/domain"
)

func writeUserFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadUsersDir(t *testing.T) {
	dir := t.TempDir()
	writeUserFile(t, dir, "alice.yaml", `
enable: true
forum:
  fname: f1
  thread: true
  block_day: 3
process:
  fast_process: true
  confirm_expire: 3600
rules:
  - name: spam
    operations_token: delete
    conditions:
      - type: text
        key: text
        options: {text: "spam"}
        priority: 60
`)
	writeUserFile(t, dir, "bob.yml", `
username: bob-mod
enable: false
forum:
  fname: f2
`)
	writeUserFile(t, dir, "notes.txt", "not a user file")

	users, err := LoadUsersDir(dir)
	require.NoError(t, err)
	require.Len(t, users, 2)

	alice := users[0]
	assert.Equal(t, "alice", alice.Username, "username defaults to the filename base")
	assert.True(t, alice.Enable)
	assert.Equal(t, "f1", alice.Forum.Fname)
	assert.True(t, alice.Forum.Thread)
	assert.Equal(t, 3, alice.Forum.BlockDay)
	assert.True(t, alice.Process.FastProcess)
	assert.Equal(t, int64(3600), alice.Process.ConfirmExpire)
	require.Len(t, alice.Rules, 1)
	assert.Equal(t, "spam", alice.Rules[0].Name)
	assert.Equal(t, domain.OpDelete, alice.Rules[0].OperationsToken)
	require.Len(t, alice.Rules[0].Conditions, 1)
	assert.Equal(t, "text", alice.Rules[0].Conditions[0].Type)
	assert.Equal(t, float64(60), alice.Rules[0].Conditions[0].Priority)

	assert.Equal(t, "bob-mod", users[1].Username, "explicit username wins over filename")
}

func TestLoadUsersDirRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeUserFile(t, dir, "broken.yaml", `
enable: true
forumm:
  fname: typo
`)

	_, err := LoadUsersDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestLoadUsersDirMissingDir(t *testing.T) {
	_, err := LoadUsersDir(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestLoadMergesUsersDir(t *testing.T) {
	dir := t.TempDir()
	usersDir := filepath.Join(dir, "users.d")
	require.NoError(t, os.Mkdir(usersDir, 0o755))
	writeUserFile(t, usersDir, "carol.yaml", `
enable: true
forum:
  fname: f3
  post: true
rules:
  - name: r
    operations_token: ignore
    conditions: []
`)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("users_dir: "+usersDir+"\n"), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "carol", cfg.Users[0].Username)
}
