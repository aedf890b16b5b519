package domain

import "time"

// ContentCacheRecord is the persisted row the classifier reads and writes
// in a single round trip. LastTime
// and ReplyNum are the update markers; LastUpdate is the row-modification
// wall clock used by the TTL sweeper (default expiry PID_CACHE_EXPIRE,
// 7 days).
type ContentCacheRecord struct {
	Pid        int64     `json:"pid"`
	Tid        int64     `json:"tid"`
	Fname      string    `json:"fname"`
	Type       ContentType `json:"type"`
	CreateTime int64     `json:"create_time"`
	Floor      int       `json:"floor"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Images     []Image   `json:"images"`
	AuthorID   int64     `json:"author_id"`
	LastTime   *int64    `json:"last_time,omitempty"`
	ReplyNum   *int      `json:"reply_num,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

// CacheRecordFromContent builds the cache row for a freshly observed Content. Thread
// and Post carry update markers; Comment does not.
func CacheRecordFromContent(c *Content, now time.Time) ContentCacheRecord {
	rec := ContentCacheRecord{
		Pid:        c.Pid,
		Tid:        c.Tid,
		Fname:      c.Fname,
		Type:       c.Type,
		CreateTime: c.CreateTime,
		Floor:      c.Floor,
		Title:      c.Title,
		Text:       c.Text,
		Images:     c.Images,
		AuthorID:   c.User.UserID,
		LastUpdate: now,
	}
	switch c.Type {
	case ContentThread:
		lt := c.LastTime
		rn := c.ReplyNum
		rec.LastTime = &lt
		rec.ReplyNum = &rn
	case ContentPost:
		rn := c.ReplyNum
		rec.ReplyNum = &rn
	}
	return rec
}
