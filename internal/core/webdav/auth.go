package webdav

import "encoding/base64"

type authScheme int

const (
	authNone authScheme = iota
	authBasic
	authBearer
)

// Auth is the credential attached to every request of a session. The zero
// value sends no Authorization header.
type Auth struct {
	scheme   authScheme
	login    string
	password string
	token    string
}

func BasicAuth(login, password string) Auth {
	return Auth{scheme: authBasic, login: login, password: password}
}

func BearerAuth(token string) Auth {
	return Auth{scheme: authBearer, token: token}
}

func NoAuth() Auth { return Auth{} }

// Header is the Authorization header value, empty for NoAuth.
func (a Auth) Header() string {
	switch a.scheme {
	case authBasic:
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.login+":"+a.password))
	case authBearer:
		return "Bearer " + a.token
	}
	return ""
}

// String never includes secrets.
func (a Auth) String() string {
	switch a.scheme {
	case authBasic:
		return "basic(" + a.login + ")"
	case authBearer:
		return "bearer"
	}
	return "none"
}
