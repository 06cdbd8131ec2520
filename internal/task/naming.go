package task

import (
	"fmt"
	"strings"
)

// MaxRepoNameLength is the hosting service's limit on repository names.
const MaxRepoNameLength = 100

const noncePrefixLength = 5

// Sanitize replaces every character outside [a-zA-Z0-9-] with '-' and
// lowercases the result.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			b.WriteRune(c)
		case c >= 'A' && c <= 'Z':
			b.WriteRune(c + ('a' - 'A'))
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// LocalPart returns the part of an email address before the first '@'.
func LocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// RepoName derives the repository name for a request:
// sanitize(task)-sanitize(local part)-nonce[:5].
//
// Nonces shorter than five characters are used whole. Characters of the
// prefix that a repository name cannot hold become '-', as the hosting
// service itself would rename them.
func RepoName(r Request) string {
	return fmt.Sprintf("%s-%s-%s", Sanitize(r.Task), Sanitize(LocalPart(r.Email)), noncePrefix(r.Nonce))
}

func noncePrefix(nonce string) string {
	runes := []rune(nonce)
	if len(runes) > noncePrefixLength {
		runes = runes[:noncePrefixLength]
	}
	for i, c := range runes {
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.'
		if !ok {
			runes[i] = '-'
		}
	}
	return string(runes)
}

// PagesURL is the public pages address of a repository.
func PagesURL(owner, repo string) string {
	return fmt.Sprintf("https://%s.github.io/%s/", strings.ToLower(owner), repo)
}
