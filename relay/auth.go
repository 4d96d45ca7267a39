package relay

import (
	"net/http"

	"github.com/google/uuid"
)

// Authenticator issues and recognizes opaque session tokens. Real user
// authentication is a collaborator outside this system; the server only
// needs a token per signed-in player.
type Authenticator interface {
	// Token extracts the session token from a request, or returns ""
	// if the request carries none.
	Token(r *http.Request) string
	// Issue creates a fresh token and attaches it to the response.
	Issue(w http.ResponseWriter) string
	// Clear removes the token from the client.
	Clear(w http.ResponseWriter)
}

// CookieAuth keeps the session token in a cookie, like the original
// sign-in form. Tokens are random and carry no identity.
type CookieAuth struct {
	// Name is the cookie name; "sessionid" if empty.
	Name string
}

func (a *CookieAuth) cookieName() string {
	if a.Name != "" {
		return a.Name
	}
	return "sessionid"
}

func (a *CookieAuth) Token(r *http.Request) string {
	c, err := r.Cookie(a.cookieName())
	if err != nil {
		return ""
	}
	return c.Value
}

func (a *CookieAuth) Issue(w http.ResponseWriter) string {
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:   a.cookieName(),
		Value:  token,
		Path:   "/",
		MaxAge: 10 * 24 * 60 * 60,
	})
	return token
}

func (a *CookieAuth) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   a.cookieName(),
		Path:   "/",
		MaxAge: -1,
	})
}
