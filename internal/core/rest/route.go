package rest

import "strings"

// Bucket derives the rate-limit bucket key for a request path.
//
// The query string and leading slash are dropped. Snowflake segments become
// ":id" unless they directly follow "channels" or "guilds", so every channel
// and guild keeps its own bucket while nested resource ids share one. Anything
// after the segment following "reactions" is discarded, which puts every
// per-emoji reaction call for a message in the same bucket.
func Bucket(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return ""
	}

	segments := strings.Split(path, "/")
	key := make([]string, 0, len(segments))
	for i, seg := range segments {
		prev := ""
		if i > 0 {
			prev = segments[i-1]
		}
		if prev == "reactions" {
			break
		}
		if isSnowflake(seg) && prev != "channels" && prev != "guilds" {
			key = append(key, ":id")
			continue
		}
		key = append(key, seg)
	}
	return strings.Join(key, "/")
}

func isSnowflake(s string) bool {
	if len(s) < 16 || len(s) > 19 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
