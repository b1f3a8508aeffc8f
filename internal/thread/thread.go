// Package thread derives conversation identity from message headers and
// groups headers into conversations.
package thread

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/brandon/mail-engine/pkg/types"
)

const noSubject = "(no subject)"

var replyPrefix = regexp.MustCompile(`(?i)^(re:|fwd?:|fw:)\s*`)

// digestFunc returns the hex digest used for thread ids. Replaced in tests.
var digestFunc = func(s string) (string, error) {
	h := sha256.New()
	if _, err := h.Write([]byte(s)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ID computes the thread id of a message. It is a pure function of the
// threading headers, the real Message-ID and the subject.
func ID(h *types.EmailHeader) string {
	if inReplyTo := strings.TrimSpace(h.InReplyTo); inReplyTo != "" {
		return Hash(inReplyTo)
	}

	if refs := strings.Fields(h.References); len(refs) > 0 {
		return Hash(refs[0])
	}

	if msgID := strings.TrimSpace(h.HeaderMessageID); msgID != "" {
		return Hash(msgID)
	}

	return Hash(NormalizeSubject(h.Subject) + "_" + strings.TrimSpace(h.HeaderMessageID))
}

// Hash returns the first 16 hex characters of the digest of s. If the
// digest fails it falls back to a tagged FNV-1a hash and never panics.
func Hash(s string) string {
	sum, err := digestFunc(s)
	if err != nil || len(sum) < 16 {
		f := fnv.New32a()
		f.Write([]byte(s)) //nolint:errcheck
		return fmt.Sprintf("thread-%x", f.Sum32())
	}
	return sum[:16]
}

// NormalizeSubject strips one leading reply or forward prefix and lower-cases the rest
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return noSubject
	}
	s = strings.TrimSpace(replyPrefix.ReplaceAllString(s, ""))
	if s == "" {
		return noSubject
	}
	return strings.ToLower(s)
}
