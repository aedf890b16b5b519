package tieba

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBrowser(t *testing.T, payload string) *Browser {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)

	b := NewBrowser(srv.Client(), nil)
	b.pageURL = srv.URL
	b.diagnosticsDir = t.TempDir()
	return b
}

func diagnosticsFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "fetch_post_*.json"))
	require.NoError(t, err)
	return matches
}

func TestGetPostsParsesPage(t *testing.T) {
	b := newTestBrowser(t, `{
		"post_list": [
			{"author_id": 7, "id": 100, "time": 1700000000, "floor": 1,
			 "content": [{"type": 0, "text": "op body"}], "sub_post_number": 0},
			{"author_id": 8, "id": 200, "time": 1700000100, "floor": 2,
			 "content": [{"type": 0, "text": "a reply"}], "sub_post_number": 1,
			 "sub_post_list": {"pid": 200, "sub_post_list": [
				{"author_id": 9, "id": 300, "time": 1700000200,
				 "content": [{"type": 0, "text": "a sub-reply"}]}
			 ]}}
		],
		"user_list": [{"id": 8, "name": "u8", "name_show": "U8", "level_id": 3}],
		"page": {"total_page": 5},
		"thread": {"title": "hi"},
		"forum": {"name": "f1"},
		"error_code": 0
	}`)

	result, err := b.GetPosts(context.Background(), 100, 1)
	require.NoError(t, err)

	assert.Equal(t, 5, result.TotalPage)
	require.Len(t, result.Posts, 2)
	assert.Equal(t, "a reply", result.Posts[1].Text)
	assert.Equal(t, int64(7), result.Posts[1].ThreadAuthorID)
	assert.Equal(t, "u8", result.Posts[1].User.UserName)
	require.Len(t, result.Comments, 1)
	assert.Equal(t, "a sub-reply", result.Comments[0].Text)
	assert.Equal(t, 2, result.Comments[0].Floor, "a comment carries its parent post's floor")
	assert.Equal(t, 1, result.ReplyNum[200])
	assert.Empty(t, diagnosticsFiles(t, b.diagnosticsDir))
}

func TestGetPostsMalformedBodySubstitutesEmptyResult(t *testing.T) {
	b := newTestBrowser(t, `{"post_list": [broken`)

	result, err := b.GetPosts(context.Background(), 100, 1)
	require.NoError(t, err, "a structural failure is not a fetch error")
	assert.Empty(t, result.Posts)
	assert.Empty(t, result.Comments)
	assert.Zero(t, result.TotalPage)

	files := diagnosticsFiles(t, b.diagnosticsDir)
	require.Len(t, files, 1, "the raw payload is kept for inspection")
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, `{"post_list": [broken`, string(raw))
}

func TestGetPostsErrorCodeSubstitutesEmptyResult(t *testing.T) {
	b := newTestBrowser(t, `{"error_code": 110, "post_list": []}`)

	result, err := b.GetPosts(context.Background(), 100, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Posts)

	require.Len(t, diagnosticsFiles(t, b.diagnosticsDir), 1)
}

func TestGetPostsTransportErrorStaysAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	b := NewBrowser(srv.Client(), nil)
	b.pageURL = srv.URL
	b.diagnosticsDir = t.TempDir()

	_, err := b.GetPosts(context.Background(), 100, 1)
	require.Error(t, err, "transient upstream failures propagate for retry/skip")
	assert.Empty(t, diagnosticsFiles(t, b.diagnosticsDir))
}

func TestSignIsStableAcrossKeyOrder(t *testing.T) {
	a := make(map[string][]string)
	a["kz"] = []string{"100"}
	a["pn"] = []string{"1"}
	a["rn"] = []string{"30"}

	s1 := sign(a)
	s2 := sign(map[string][]string{"rn": {"30"}, "pn": {"1"}, "kz": {"100"}})
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 32)
}
