package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

var replyPrefixRe = regexp.MustCompile(`(?i)^(re|fwd?)\s*:\s*`)

// deriveThreadID implements spec.md's step 5: the last Message-Id in
// References wins, then In-Reply-To, then a hash of the normalised subject plus the
// sorted participant set.
func deriveThreadID(references, inReplyTo, subject string, participants []string) string {
	if id := lastReference(references); id != "" {
		return id
	}
	if id := strings.TrimSpace(inReplyTo); id != "" {
		return id
	}
	return hashSubjectParticipants(subject, participants)
}

func lastReference(references string) string {
	fields := strings.Fields(references)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func hashSubjectParticipants(subject string, participants []string) string {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)

	key := normalizeSubject(subject) + "|" + strings.Join(sorted, ",")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}

// normalizeSubject strips repeated Re:/Fwd: prefixes, lowercases, and
// collapses internal whitespace so quoting/forwarding doesn't fork the
// fallback thread id.
func normalizeSubject(subject string) string {
	s := subject
	for {
		stripped := replyPrefixRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}
