package twitch

import (
	"strconv"
	"strings"

	"github.com/john/chatoverlay/internal/message"
)

// parseBadges parses a badges tag such as "broadcaster/1,subscriber/12",
// keeping tag order.
func parseBadges(tag string) []message.Badge {
	if tag == "" {
		return nil
	}
	var out []message.Badge
	for _, part := range strings.Split(tag, ",") {
		set, version, _ := strings.Cut(part, "/")
		if set == "" {
			continue
		}
		out = append(out, message.Badge{Set: set, Version: version})
	}
	return out
}

// parseEmotes parses an emotes tag such as "25:0-4,12-16/1902:6-10". Ranges
// keep tag order; malformed ranges are dropped.
func parseEmotes(tag string) []message.EmoteAnnotation {
	if tag == "" {
		return nil
	}
	var out []message.EmoteAnnotation
	for _, group := range strings.Split(tag, "/") {
		code, ranges, ok := strings.Cut(group, ":")
		if !ok || code == "" {
			continue
		}
		for _, rng := range strings.Split(ranges, ",") {
			a, b, ok := strings.Cut(rng, "-")
			if !ok {
				continue
			}
			start, err1 := strconv.Atoi(a)
			end, err2 := strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				continue
			}
			out = append(out, message.EmoteAnnotation{Code: code, Start: start, End: end})
		}
	}
	return out
}
