// Package credential implements the two-tier admin credential scheme: a
// UI-class secret presented via cookie and an API-class secret presented via
// header or query parameter. Each channel accepts exactly one class; a valid
// secret on the wrong channel is denied.
package credential

import (
	"crypto/subtle"
	"net/http"
)

// Inbound channel names.
const (
	HeaderName = "x-admin-key"
	CookieName = "admin_key"
	QueryParam = "adminKey"
)

// Channel identifies where a candidate secret arrived.
type Channel string

const (
	ChannelNone   Channel = ""
	ChannelHeader Channel = "header"
	ChannelCookie Channel = "cookie"
	ChannelQuery  Channel = "query"
)

// Class is the credential tier a secret belongs to.
type Class string

const (
	ClassNone Class = ""
	ClassAPI  Class = "api"
	ClassUI   Class = "ui"
)

// Mode selects which classes an endpoint accepts.
type Mode string

const (
	ModeAPI Mode = "api"
	ModeUI  Mode = "ui"
	ModeAny Mode = "any"
)

// RequestCredentials carries the candidate secrets found on each channel of
// one inbound request. It is built once at the HTTP boundary so the core
// logic never touches framework request objects.
type RequestCredentials struct {
	Header string
	Cookie string
	Query  string
}

// FromRequest adapts an http.Request into RequestCredentials.
func FromRequest(r *http.Request) RequestCredentials {
	rc := RequestCredentials{
		Header: r.Header.Get(HeaderName),
		Query:  r.URL.Query().Get(QueryParam),
	}
	if c, err := r.Cookie(CookieName); err == nil {
		rc.Cookie = c.Value
	}
	return rc
}

// Extract returns the first secret found in fixed priority order: header,
// cookie, query. It stops at the first match and never merges sources.
func Extract(rc RequestCredentials) (string, Channel, bool) {
	switch {
	case rc.Header != "":
		return rc.Header, ChannelHeader, true
	case rc.Cookie != "":
		return rc.Cookie, ChannelCookie, true
	case rc.Query != "":
		return rc.Query, ChannelQuery, true
	}
	return "", ChannelNone, false
}

// classesForChannel derives the permitted classes when the caller does not
// override them: header and query carry only API-class secrets, the cookie
// carries only the UI-class secret.
func classesForChannel(ch Channel) []Class {
	switch ch {
	case ChannelHeader, ChannelQuery:
		return []Class{ClassAPI}
	case ChannelCookie:
		return []Class{ClassUI}
	}
	return nil
}

// Classifier compares extracted secrets against the configured class
// secrets. Either secret may be empty, in which case that class never
// matches.
type Classifier struct {
	apiSecret string
	uiSecret  string
}

// NewClassifier builds a classifier over the configured secrets.
func NewClassifier(apiSecret, uiSecret string) *Classifier {
	return &Classifier{apiSecret: apiSecret, uiSecret: uiSecret}
}

// Verdict is the outcome of authorizing one request. It is recomputed on
// every call and never cached.
type Verdict struct {
	Authorized bool
	Class      Class
	Channel    Channel
}

// Classify checks secret against the configured class secrets, allowing only
// the classes in allowed. When allowed is empty it is derived from the
// channel. A secret that matches a class outside allowed is denied; there is
// no fallback to the other class.
func (c *Classifier) Classify(secret string, ch Channel, allowed ...Class) Verdict {
	if len(allowed) == 0 {
		allowed = classesForChannel(ch)
	}
	for _, class := range allowed {
		var want string
		switch class {
		case ClassAPI:
			want = c.apiSecret
		case ClassUI:
			want = c.uiSecret
		default:
			continue
		}
		if constantTimeEqual(secret, want) {
			return Verdict{Authorized: true, Class: class, Channel: ch}
		}
	}
	return Verdict{Channel: ch}
}

func constantTimeEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Gate is the single entry point protected routes call before doing any
// work. It is side-effect free.
type Gate struct {
	classifier *Classifier
}

// NewGate wires the extractor and classifier together.
func NewGate(classifier *Classifier) *Gate {
	return &Gate{classifier: classifier}
}

// Authorize extracts a candidate secret and classifies it under the given
// mode. ModeAny accepts either class from any channel; ModeAPI and ModeUI
// restrict to one class while still honoring channel rules through the
// intersection with the channel-derived classes.
func (g *Gate) Authorize(rc RequestCredentials, mode Mode) Verdict {
	secret, ch, ok := Extract(rc)
	if !ok {
		return Verdict{}
	}

	var allowed []Class
	if mode == ModeAny {
		allowed = []Class{ClassAPI, ClassUI}
	} else {
		allowed = intersect(classesForChannel(ch), Class(mode))
		if len(allowed) == 0 {
			// The requested class is not served by this channel at all,
			// e.g. ModeAPI with a cookie credential.
			return Verdict{Channel: ch}
		}
	}
	return g.classifier.Classify(secret, ch, allowed...)
}

func intersect(classes []Class, keep Class) []Class {
	out := classes[:0:0]
	for _, c := range classes {
		if c == keep {
			out = append(out, c)
		}
	}
	return out
}
