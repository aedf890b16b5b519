package domain

import "strings"

// CrawlNeed describes which content layers a forum's crawl pass should
// yield. Its Or (merge) and Sub (flag-subtract) algebra lets the crawler
// orchestrator aggregate per-user needs and diff successive
// recomputations for its change log.
type CrawlNeed struct {
	Thread  bool
	Post    bool
	Comment bool
}

// Empty reports whether no layer is wanted at all.
func (n CrawlNeed) Empty() bool {
	return !n.Thread && !n.Post && !n.Comment
}

// Or returns the OR-merge of n and other.
func (n CrawlNeed) Or(other CrawlNeed) CrawlNeed {
	return CrawlNeed{
		Thread:  n.Thread || other.Thread,
		Post:    n.Post || other.Post,
		Comment: n.Comment || other.Comment,
	}
}

// Sub reports the layers set in n but not in other, used to compute the
// "lost" half of a needs diff.
func (n CrawlNeed) Sub(other CrawlNeed) CrawlNeed {
	return CrawlNeed{
		Thread:  n.Thread && !other.Thread,
		Post:    n.Post && !other.Post,
		Comment: n.Comment && !other.Comment,
	}
}

// String renders the wanted layers as a short bracketed label, e.g.
// "[thread/post]", for the orchestrator's change-log lines.
func (n CrawlNeed) String() string {
	var layers []string
	if n.Thread {
		layers = append(layers, "thread")
	}
	if n.Post {
		layers = append(layers, "post")
	}
	if n.Comment {
		layers = append(layers, "comment")
	}
	return "[" + strings.Join(layers, "/") + "]"
}
