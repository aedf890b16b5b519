package tieba

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tieba-mod/moderator/internal/domain"
)

const (
	pageURL   = "http://c.tieba.baidu.com/c/f/pb/page"
	userAgent = "bdtb for Android 10.3.8.41"
	cuid      = "baidutiebaapp21ce9427-2a0c-40de-b07c-4d185bc939c6;l"
)

// rawUser mirrors the browser endpoint's user_list entries.
type rawUser struct {
	Name      string `json:"name"`
	Portrait  string `json:"portrait"`
	LevelID   int    `json:"level_id"`
	ID        int64  `json:"id"`
	NameShow  string `json:"name_show"`
}

type rawContentItem struct {
	Type       int    `json:"type"`
	Text       string `json:"text"`
	Bsize      string `json:"bsize"`
	OriginSrc  string `json:"origin_src"`
	Src        string `json:"src"`
}

type rawBasePost struct {
	AuthorID     int64            `json:"author_id"`
	ID           int64            `json:"id"`
	Time         int64            `json:"time"`
	Content      []rawContentItem `json:"content"`
	Floor        int              `json:"floor"`
	SubPostNum   int              `json:"sub_post_number"`
	SubPostList  *rawSubPostList  `json:"sub_post_list,omitempty"`
}

type rawSubPostList struct {
	Pid         int64         `json:"pid"`
	SubPostList []rawBasePost `json:"sub_post_list"`
}

type pageResponse struct {
	PostList  []rawBasePost `json:"post_list"`
	UserList  []rawUser     `json:"user_list"`
	Page      struct {
		TotalPage int `json:"total_page"`
	} `json:"page"`
	Thread struct {
		Title string `json:"title"`
	} `json:"thread"`
	Forum struct {
		Name string `json:"name"`
	} `json:"forum"`
	ErrorCode int `json:"error_code"`
}

// PageResult is the parsed outcome of one browser-endpoint page fetch.
type PageResult struct {
	Posts     []domain.Content
	Comments  []domain.Content
	TotalPage int
	ReplyNum  map[int64]int
}

// Browser is the raw HTTP "browser" client: POSTs to
// the paginated thread-detail endpoint that yields inline post+comment
// previews, signed with md5(sorted_form_body + "tiebaclient!!!").
//
// The signing scheme and field layout are dictated by the upstream
// protocol, not a design choice here.
type Browser struct {
	httpClient *http.Client
	logger     *slog.Logger

	// pageURL and diagnosticsDir are overridable for tests.
	pageURL        string
	diagnosticsDir string
}

func NewBrowser(httpClient *http.Client, logger *slog.Logger) *Browser {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{
		httpClient:     httpClient,
		logger:         logger.With("component", "browser"),
		pageURL:        pageURL,
		diagnosticsDir: "logs",
	}
}

// saveDiagnostics writes a structurally unusable payload to
// logs/fetch_post_<timestamp>.json so the schema drift can be inspected
// after the fact, and returns the path. A failed write is logged and
// swallowed; diagnostics must never make a bad page worse.
func (b *Browser) saveDiagnostics(raw []byte) string {
	name := fmt.Sprintf("fetch_post_%s.json", time.Now().Format("2006-01-02_15-04-05.000"))
	path := filepath.Join(b.diagnosticsDir, name)
	if err := os.MkdirAll(b.diagnosticsDir, 0o755); err != nil {
		b.logger.Error("create diagnostics dir failed", "dir", b.diagnosticsDir, "error", err)
		return ""
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		b.logger.Error("write diagnostics file failed", "path", path, "error", err)
		return ""
	}
	return path
}

func sign(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf strings.Builder
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString("=")
		buf.WriteString(form.Get(k))
	}
	buf.WriteString("tiebaclient!!!")

	sum := md5.Sum([]byte(buf.String()))
	return hex.EncodeToString(sum[:])
}

// GetPosts fetches one page of a thread's posts and their inline
// sub-reply previews. A transport failure or non-200 status yields a zero
// PageResult and a descriptive error for the caller to log and skip; an
// undecodable body or a non-zero error_code is saved to a diagnostics file
// and yields a zero PageResult with a nil error.
func (b *Browser) GetPosts(ctx context.Context, tid int64, pn int) (PageResult, error) {
	form := url.Values{
		"_client_type":    {"2"},
		"_client_version": {"7.0.0"},
		"kz":              {strconv.FormatInt(tid, 10)},
		"pn":              {strconv.Itoa(pn)},
		"rn":              {"30"},
		"with_floor":      {"1"},
		"floor_rn":        {"4"},
	}
	form.Set("sign", sign(form))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.pageURL, strings.NewReader(form.Encode()))
	if err != nil {
		return PageResult{}, fmt.Errorf("tieba: build page request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("cuid", cuid)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return PageResult{}, fmt.Errorf("tieba: page request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PageResult{}, fmt.Errorf("tieba: page request status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PageResult{}, fmt.Errorf("tieba: read page body: %w", err)
	}

	// A structurally unusable payload (malformed JSON, non-zero
	// error_code) is not a transient fetch failure: the raw body goes to
	// a diagnostics file and an empty result is substituted so the pass
	// continues.
	var data pageResponse
	if err := json.Unmarshal(body, &data); err != nil {
		saved := b.saveDiagnostics(body)
		b.logger.Warn("page body undecodable, substituting empty result", "tid", tid, "pn", pn, "diagnostics", saved, "error", err)
		return PageResult{}, nil
	}
	if data.ErrorCode != 0 {
		saved := b.saveDiagnostics(body)
		b.logger.Warn("page returned error_code, substituting empty result", "tid", tid, "pn", pn, "error_code", data.ErrorCode, "diagnostics", saved)
		return PageResult{}, nil
	}

	return parsePageResponse(tid, data), nil
}

func parsePageResponse(tid int64, data pageResponse) PageResult {
	users := make(map[int64]domain.User, len(data.UserList))
	for _, u := range data.UserList {
		users[u.ID] = domain.User{
			UserID:   u.ID,
			UserName: u.Name,
			NickName: u.NameShow,
			Portrait: u.Portrait,
			Level:    u.LevelID,
		}
	}

	var threadAuthorID int64
	for _, p := range data.PostList {
		if p.Floor == 1 {
			threadAuthorID = p.AuthorID
			break
		}
	}

	result := PageResult{TotalPage: data.Page.TotalPage, ReplyNum: make(map[int64]int, len(data.PostList))}

	for _, p := range data.PostList {
		text, images := extractContent(p.Content)
		post := domain.NewPost(data.Forum.Name, tid, p.ID, data.Thread.Title, text, images, p.Time, p.Floor, p.SubPostNum, users[p.AuthorID])
		post.ThreadAuthorID = threadAuthorID
		result.Posts = append(result.Posts, post)
		result.ReplyNum[p.ID] = p.SubPostNum

		if p.SubPostList == nil {
			continue
		}
		for _, sp := range p.SubPostList.SubPostList {
			subText, _ := extractContent(sp.Content)
			comment := domain.NewComment(data.Forum.Name, tid, sp.ID, data.Thread.Title, subText, sp.Time, p.Floor, users[sp.AuthorID])
			comment.ThreadAuthorID = threadAuthorID
			result.Comments = append(result.Comments, comment)
		}
	}

	return result
}

// extractContent flattens the endpoint's mixed text/emoji/image content
// list: type 0 is text, type 3 is an image; other types
// (emoji, type 2) are ignored since they carry no moderation-relevant
// text.
func extractContent(items []rawContentItem) (string, []domain.Image) {
	var text strings.Builder
	var images []domain.Image

	for _, c := range items {
		switch c.Type {
		case 0:
			text.WriteString(c.Text)
		case 3:
			width, height := parseBsize(c.Bsize)
			src := c.OriginSrc
			if src == "" {
				src = c.Src
			}
			images = append(images, domain.Image{
				Hash:   imageHash(src),
				Width:  width,
				Height: height,
				Src:    src,
			})
		}
	}
	return text.String(), images
}

func parseBsize(bsize string) (int, int) {
	parts := strings.SplitN(bsize, ",", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, _ := strconv.Atoi(parts[0])
	h, _ := strconv.Atoi(parts[1])
	return w, h
}

func imageHash(src string) string {
	parts := strings.Split(src, "/")
	last := parts[len(parts)-1]
	if idx := strings.Index(last, "."); idx >= 0 {
		return last[:idx]
	}
	return last
}
