package rule

import "github.com/tieba-mod/moderator/internal/domain"

// Getter computes a condition's comparison value from a Content (and,
// for conditions whose value requires an extra lookup such as the
// poster's IP, from the EvalContext passed alongside it). Built-in
// conditions bind to one of these attribute paths by name:
// "user.user_name", "create_time", "floor", "type", "user.level", "text",
// "title".
type Getter func(c *domain.Content) any

// attributes is the registry of known content attribute paths a
// condition can bind against via ConditionDescriptor.Key. It is
// populated at package init and thereafter read-only.
var attributes = map[string]Getter{
	"text":           func(c *domain.Content) any { return c.Text },
	"title":          func(c *domain.Content) any { return c.Title },
	"type":           func(c *domain.Content) any { return string(c.Type) },
	"floor":          func(c *domain.Content) any { return c.Floor },
	"create_time":    func(c *domain.Content) any { return c.CreateTime },
	"reply_num":      func(c *domain.Content) any { return c.ReplyNum },
	"user.user_id":   func(c *domain.Content) any { return c.User.UserID },
	"user.user_name": func(c *domain.Content) any { return c.User.UserName },
	"user.nick_name": func(c *domain.Content) any { return c.User.NickName },
	"user.level":     func(c *domain.Content) any { return c.User.Level },
}

// RegisterAttribute adds a custom attribute path, used by plugin-supplied
// condition templates that need a value the built-ins don't expose
// (e.g. an external lookup marked with ShowUnprocessed).
func RegisterAttribute(path string, get Getter) {
	attributes[path] = get
}

// defaultAttribute is the attribute a condition *series* binds to when no
// explicit Key is given on the descriptor.
var defaultAttribute = map[string]string{
	"text":     "text",
	"limiter":  "floor",
	"time":     "create_time",
	"checkbox": "type",
	"select":   "type",
}

func resolveAttribute(conditionType, key string) (Getter, string, bool) {
	path := key
	if path == "" {
		path = defaultAttribute[conditionType]
	}
	get, ok := attributes[path]
	return get, path, ok
}
