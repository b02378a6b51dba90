package structag

import (
	"encoding/json"
	"strings"
)

// TagContent is one extracted tag occurrence.
type TagContent struct {
	Begin string
	Body  string
	End   string
}

// ExtractTagContents scans generated output for occurrences of the given
// triggers and pulls out the (begin, body, end) triples of well-formed tags.
// Text outside tags is returned joined together. Malformed tags are skipped
// and their trigger bytes are treated as plain text.
//
// Triggers follow the angle-bracket convention: a trigger like "<tool>"
// names its end tag directly, while an open-ended trigger like "<f=" is
// completed by the next '>'. Tags opened by a "<function=" trigger must
// carry a valid JSON body to count.
func ExtractTagContents(input string, triggers []string) (string, []TagContent) {
	var outside strings.Builder
	var tags []TagContent

	pos := 0
	for pos < len(input) {
		trigger := ""
		for _, t := range triggers {
			if strings.HasPrefix(input[pos:], t) {
				trigger = t
				break
			}
		}
		if trigger == "" {
			outside.WriteByte(input[pos])
			pos++
			continue
		}

		tagStart := pos
		pos += len(trigger)

		complete := strings.HasSuffix(trigger, ">")
		beginEnd := tagStart + len(trigger) - 1
		if !complete {
			i := strings.IndexByte(input[pos:], '>')
			if i < 0 {
				continue
			}
			beginEnd = pos + i
		}
		begin := input[tagStart : beginEnd+1]

		endPrefix := endTagPrefix(trigger, complete)
		bodyStart := beginEnd + 1
		endStart := strings.Index(input[bodyStart:], endPrefix)
		if endStart < 0 {
			pos = bodyStart
			continue
		}
		endStart += bodyStart
		endClose := strings.IndexByte(input[endStart:], '>')
		if endClose < 0 {
			pos = bodyStart
			continue
		}
		endClose += endStart

		body := input[bodyStart:endStart]
		end := input[endStart : endClose+1]

		if strings.HasPrefix(trigger, "<function=") && !looksLikeJSON(body) {
			pos = bodyStart
			continue
		}
		tags = append(tags, TagContent{Begin: begin, Body: body, End: end})
		pos = endClose + 1
	}
	return outside.String(), tags
}

// endTagPrefix derives the closing tag prefix from a trigger: "<name>" and
// "<name=" close with "</name", anything else with "</" + trigger body.
func endTagPrefix(trigger string, complete bool) string {
	if strings.HasPrefix(trigger, "<") {
		if complete {
			return "</" + trigger[1:len(trigger)-1]
		}
		if i := strings.IndexByte(trigger, '='); i >= 0 {
			return "</" + trigger[1:i]
		}
		return "</" + trigger[1:]
	}
	return "</" + trigger
}

func looksLikeJSON(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	return json.Valid([]byte(t))
}
