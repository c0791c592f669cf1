package timing

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	documentPrefix = `<!DOCTYPE html><html><head><meta charset="utf-8"></head><body>`
	documentSuffix = `</body></html>`
	dataURIPrefix  = "data:text/html;charset=utf-8;base64,"
)

// Content is a test source resolved for embedding. Exactly one of URL and
// Markup is set.
type Content struct {
	URL    string
	Markup string
}

// ResolveContent classifies source. Anything starting with a URL scheme is
// embedded by reference; everything else is inline markup, wrapped into a
// minimal document when it carries no body element of its own.
func ResolveContent(source string) Content {
	trimmed := strings.TrimSpace(source)
	if hasScheme(trimmed) {
		return Content{URL: trimmed}
	}

	if strings.Contains(strings.ToLower(source), "<body") {
		return Content{Markup: source}
	}

	return Content{Markup: documentPrefix + source + documentSuffix}
}

// IsURL reports whether the content is a remote document.
func (c Content) IsURL() bool {
	return c.URL != ""
}

// DataURI returns the markup as a self-contained data: document. It is
// empty for URL content.
func (c Content) DataURI() string {
	if c.IsURL() {
		return ""
	}

	return dataURIPrefix + base64.StdEncoding.EncodeToString([]byte(c.Markup))
}

// EmbedURL is the address an embedding frame should load.
func (c Content) EmbedURL() string {
	if c.IsURL() {
		return c.URL
	}

	return c.DataURI()
}

// WithBootstrap appends the channel client script to inline markup so the
// content can receive the stop instruction and post its payload back over
// the websocket at channelURL. URL content is returned unchanged.
func (c Content) WithBootstrap(channelURL string) Content {
	if c.IsURL() {
		return c
	}

	return Content{Markup: c.Markup + fmt.Sprintf(bootstrapScript, channelURL)}
}

// The embedded page registers window.perception.onstop and calls
// window.perception.report(data) once it has a measurement.
const bootstrapScript = `<script>(function(){` +
	`var ws=new WebSocket(%q);` +
	`var p=window.perception={onstop:null,report:function(d){ws.send(JSON.stringify({type:"payload",data:d}))}};` +
	`ws.onmessage=function(e){var m=JSON.parse(e.data);if(m.type==="stop"&&p.onstop){p.onstop()}};` +
	`})();</script>`

// hasScheme reports whether s starts with an RFC 3986 scheme followed by
// ":", e.g. "http://", "https://" or "data:".
func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9', c == '+', c == '-', c == '.':
			if i == 0 {
				return false
			}
		case c == ':':
			return i > 0 && knownScheme(strings.ToLower(s[:i]), s[i+1:])
		default:
			return false
		}
	}

	return false
}

// knownScheme guards against markup such as "note: hello" being taken for
// a URL. Hierarchical schemes need "//"; data/about/blob are accepted
// as-is.
func knownScheme(scheme, rest string) bool {
	switch scheme {
	case "data", "about", "blob":
		return true
	default:
		return strings.HasPrefix(rest, "//")
	}
}
