//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/internal/storage/migrations"
)

// openIntegrationStore starts a disposable PostgreSQL container, applies
// the schema, and opens a Store against it.
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("moderator_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrationDB, err := OpenMigrationDB(dsn)
	require.NoError(t, err)
	require.NoError(t, migrations.Up(ctx, migrationDB, migrations.DialectPostgres))
	require.NoError(t, migrationDB.Close())

	store, err := Open(ctx, DefaultConfig(dsn), nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestIntegrationClassifyAndUpdate(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()

	lastTime := int64(1700000000)
	replyNum := 3
	rec := domain.ContentCacheRecord{
		Pid: 100, Tid: 100, Fname: "f1", Type: domain.ContentThread,
		CreateTime: 1699999000, Title: "hi", Text: "body",
		Images:   []domain.Image{{Hash: "abc", Width: 10, Height: 20, Src: "http://img/abc"}},
		AuthorID: 7, LastTime: &lastTime, ReplyNum: &replyNum, LastUpdate: time.Now(),
	}

	prior, err := store.ClassifyAndUpdate(ctx, rec)
	require.NoError(t, err)
	assert.Nil(t, prior, "first sighting has no prior row")

	newLastTime := int64(1700000500)
	newReplyNum := 4
	rec2 := rec
	rec2.LastTime = &newLastTime
	rec2.ReplyNum = &newReplyNum

	prior, err = store.ClassifyAndUpdate(ctx, rec2)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, lastTime, *prior.LastTime)
	assert.Equal(t, replyNum, *prior.ReplyNum)
	var storedImages []domain.Image
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT images FROM content WHERE pid = $1`, rec.Pid).Scan(&storedImages))
	assert.Equal(t, rec.Images, storedImages, "images survive the round trip")

	var count int
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM content WHERE pid = $1`, rec.Pid).Scan(&count))
	assert.Equal(t, 1, count, "repeated upserts keep a single row per pid")
}

func TestIntegrationSaveUserLevelNeverDowngrades(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveUser(ctx, domain.User{UserID: 9, UserName: "u9", Level: 6}))
	require.NoError(t, store.SaveUserLevel(ctx, domain.UserLevelRecord{UserID: 9, Fname: "f1", Level: 6}))
	require.NoError(t, store.SaveUserLevel(ctx, domain.UserLevelRecord{UserID: 9, Fname: "f1", Level: 4}))

	var level int
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT level FROM user_level WHERE user_id = $1 AND fname = $2`, 9, "f1").Scan(&level))
	assert.Equal(t, 6, level)

	require.NoError(t, store.SaveUserLevel(ctx, domain.UserLevelRecord{UserID: 9, Fname: "f1", Level: 8}))
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT level FROM user_level WHERE user_id = $1 AND fname = $2`, 9, "f1").Scan(&level))
	assert.Equal(t, 8, level)
}

func TestIntegrationProcessLogAndContextOnePerPidUser(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()

	log := domain.ProcessLog{Pid: 300, User: "alice", Tid: 100, CreateTime: 1700000000, ProcessTime: time.Now(), ResultRule: "r1"}
	require.NoError(t, store.RecordProcessLog(ctx, log))
	log.ResultRule = "r2"
	require.NoError(t, store.RecordProcessLog(ctx, log))

	pc := domain.ProcessContext{
		Pid: 300, User: "alice",
		Rules:      []domain.RecordedRule{{RuleName: "r2", ConditionIdx: []int{0}, Result: true}},
		Conditions: []domain.RecordedCondition{{Identity: "text:text", Result: true}},
	}
	require.NoError(t, store.RecordProcessContext(ctx, pc))
	require.NoError(t, store.RecordProcessContext(ctx, pc))

	var logs, contexts int
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM process_log WHERE pid = $1 AND "user" = $2`, 300, "alice").Scan(&logs))
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM process_context WHERE pid = $1 AND "user" = $2`, 300, "alice").Scan(&contexts))
	assert.Equal(t, 1, logs)
	assert.Equal(t, 1, contexts)

	var rule string
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT result_rule FROM process_log WHERE pid = $1 AND "user" = $2`, 300, "alice").Scan(&rule))
	assert.Equal(t, "r2", rule, "the later upsert wins")
}

func TestIntegrationSystemConfigAndPrune(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()

	cfg := domain.SystemConfig{Scan: domain.ScanConfig{ThreadPageForward: 2, PostPageForward: 3, QueryCD: 0.5, LoopCD: 30}}
	require.NoError(t, store.SaveSystemConfig(ctx, cfg))

	loaded, ok, err := store.LoadSystemConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg, loaded)

	old := domain.ContentCacheRecord{Pid: 400, Tid: 400, Fname: "f1", Type: domain.ContentComment, LastUpdate: time.Now().Add(-8 * 24 * time.Hour)}
	fresh := domain.ContentCacheRecord{Pid: 401, Tid: 400, Fname: "f1", Type: domain.ContentComment, LastUpdate: time.Now()}
	require.NoError(t, store.UpsertContent(ctx, old))
	require.NoError(t, store.UpsertContent(ctx, fresh))

	pruned, err := store.PruneExpiredContent(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	var remaining int
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM content`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}
