// Package notify sends award notifications and renders their templates.
package notify

import (
	"context"
	"strconv"
	"strings"
)

// Messenger delivers text on the host platform.
type Messenger interface {
	// Reply answers the trigger message in its post.
	Reply(ctx context.Context, postID, messageID, text string) error
	DirectMessage(ctx context.Context, username, text string) error
	// Operator posts to the configured operator channel.
	Operator(ctx context.Context, text string) error
}

// Values fill the placeholders of a notification template.
type Values struct {
	Author    string
	Recipient string
	Score     int64
	Permalink string
	Threshold int64
}

// Render substitutes {{author}}, {{recipient}}, {{score}}, {{permalink}} and
// {{threshold}}. Unknown placeholders are left as written.
func Render(tmpl string, v Values) string {
	return strings.NewReplacer(
		"{{author}}", v.Author,
		"{{recipient}}", v.Recipient,
		"{{score}}", strconv.FormatInt(v.Score, 10),
		"{{permalink}}", v.Permalink,
		"{{threshold}}", strconv.FormatInt(v.Threshold, 10),
	).Replace(tmpl)
}
