// Package tgurl holds the small Telegram identifier utilities: message-URL
// parsing, username normalization and nickname extraction from free text.
package tgurl

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// InvalidURLError reports a structurally broken message URL: wrong host,
// empty segments or a non-positive message id.
type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid telegram message url %q: %s", e.URL, e.Reason)
}

// InvalidMessageIDError reports a last path segment that is not a valid
// integer message id.
type InvalidMessageIDError struct {
	URL     string
	Segment string
}

func (e *InvalidMessageIDError) Error() string {
	return fmt.Sprintf("invalid message id %q in url %q", e.Segment, e.URL)
}

// ParseMessageURL extracts (chatID, messageID) from a t.me message link.
//
// Accepted forms, optionally prefixed with https://
//
//	t.me/<username>/<id>
//	t.me/<username>/<thread_id>/<id>
//	t.me/c/<channel>/<id>
//	t.me/c/<channel>/<thread_id>/<id>
func ParseMessageURL(url string) (string, int, error) {
	trimmed := strings.TrimPrefix(url, "https://")

	parts := strings.Split(trimmed, "/")
	if parts[0] != "t.me" {
		return "", 0, &InvalidURLError{URL: url, Reason: "should start with t.me/ or https://t.me/"}
	}
	if len(parts) < 2 {
		return "", 0, &InvalidURLError{URL: url, Reason: "missing path segments"}
	}

	chatID := parts[1]
	if len(parts) > 3 && parts[1] == "c" {
		chatID = parts[2]
	}
	if chatID == "" {
		return "", 0, &InvalidURLError{URL: url, Reason: "empty chat identifier"}
	}

	last := parts[len(parts)-1]
	messageID, err := strconv.Atoi(last)
	if err != nil {
		return "", 0, &InvalidMessageIDError{URL: url, Segment: last}
	}
	if messageID <= 0 {
		return "", 0, &InvalidURLError{URL: url, Reason: "message id must be positive"}
	}

	return chatID, messageID, nil
}

// EnsureAtSingle returns the canonical form of a chat identifier: lowercase
// with a single leading @.
func EnsureAtSingle(s string) string {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "@") {
		return lower
	}
	return "@" + lower
}

// EnsureAts normalizes every identifier in strs, dropping duplicates.
func EnsureAts(strs []string) []string {
	seen := make(map[string]struct{}, len(strs))
	out := make([]string, 0, len(strs))
	for _, s := range strs {
		n := EnsureAtSingle(s)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

var (
	mentionRe = regexp.MustCompile(`@[A-Za-z\d_]{5,32}`)
	linkRe    = regexp.MustCompile(`https://t\.me/([A-Za-z\d_]{5,32})`)
)

// Nicknames extracts the normalized usernames mentioned in text, either as
// @name mentions or as https://t.me/name links. The result is sorted and
// de-duplicated.
func Nicknames(text string) []string {
	if text == "" {
		return nil
	}

	var raw []string
	raw = append(raw, mentionRe.FindAllString(text, -1)...)
	for _, m := range linkRe.FindAllStringSubmatch(text, -1) {
		raw = append(raw, m[1])
	}
	if len(raw) == 0 {
		return nil
	}

	out := EnsureAts(raw)
	sort.Strings(out)
	return out
}
