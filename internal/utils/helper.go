package utils

import (
	"regexp"
	"strings"
)

const (
	AuthCookie = "aoc_auth_token"
	Anonymous  = "anonymous"

	maxSlug = 40
)

type User struct {
	ID       string `json:"userId"`
	Username string `json:"username"`
}

// ParseAuthCookie reads a "user:<name>[:<nonce>]" token. The id is
// "<name>-<nonce>", or just the name when there is no nonce. The result
// never shares memory with token.
func ParseAuthCookie(token string) (User, bool) {
	parts := strings.Split(strings.Clone(token), ":")
	if len(parts) < 2 || parts[0] != "user" || parts[1] == "" {
		return User{}, false
	}
	u := User{ID: parts[1], Username: parts[1]}
	if len(parts) > 2 && parts[2] != "" {
		u.ID = parts[1] + "-" + parts[2]
	}
	return u, true
}

// ResolveUser picks the submitting user: the auth cookie wins, then the
// form username (with the form id or a slug of the name), then anonymous.
func ResolveUser(cookie, username, userID string) User {
	if u, ok := ParseAuthCookie(cookie); ok {
		return u
	}
	username = strings.TrimSpace(username)
	userID = strings.TrimSpace(userID)
	if username == "" {
		return User{ID: Anonymous, Username: Anonymous}
	}
	if userID == "" {
		userID = BuildUserID(username)
	}
	return User{ID: userID, Username: username}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// BuildUserID derives "user-<slug>" from a display name.
func BuildUserID(username string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(username), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlug {
		slug = slug[:maxSlug]
	}
	if slug == "" {
		return Anonymous
	}
	return "user-" + slug
}
