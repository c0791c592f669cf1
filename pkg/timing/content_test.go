package timing_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/ethpandaops/perception/pkg/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveContent(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantURL string
		wrapped bool
	}{
		{name: "http url", source: "http://example.com", wantURL: "http://example.com"},
		{name: "https url with whitespace", source: "  https://example.com/a?b=c\n", wantURL: "https://example.com/a?b=c"},
		{name: "data uri", source: "data:text/html,<p>x</p>", wantURL: "data:text/html,<p>x</p>"},
		{name: "fragment is wrapped", source: "<p>hello</p>", wrapped: true},
		{name: "colon in text is markup", source: "note: hello", wrapped: true},
		{name: "full document kept", source: "<html><BODY onload=x()></BODY></html>"},
		{name: "empty source", source: "", wrapped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := timing.ResolveContent(tt.source)

			if tt.wantURL != "" {
				assert.True(t, c.IsURL())
				assert.Equal(t, tt.wantURL, c.URL)
				assert.Equal(t, tt.wantURL, c.EmbedURL())
				assert.Empty(t, c.DataURI())

				return
			}

			require.False(t, c.IsURL())

			if tt.wrapped {
				assert.True(t, strings.HasPrefix(c.Markup, "<!DOCTYPE html>"))
				assert.Contains(t, c.Markup, "<body>"+tt.source+"</body>")
			} else {
				assert.Equal(t, tt.source, c.Markup)
			}
		})
	}
}

func TestContent_DataURIRoundTrip(t *testing.T) {
	c := timing.ResolveContent("<b>hi</b>")

	uri := c.EmbedURL()
	require.True(t, strings.HasPrefix(uri, "data:text/html;charset=utf-8;base64,"))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:text/html;charset=utf-8;base64,"))
	require.NoError(t, err)
	assert.Equal(t, c.Markup, string(decoded))
}

func TestContent_WithBootstrap(t *testing.T) {
	url := timing.ResolveContent("https://example.com")
	assert.Equal(t, url, url.WithBootstrap("ws://host/x"))

	markup := timing.ResolveContent("<p>x</p>").WithBootstrap("ws://host/api/v1/sessions/abc/channel")
	assert.Contains(t, markup.Markup, `new WebSocket("ws://host/api/v1/sessions/abc/channel")`)
	assert.Contains(t, markup.Markup, `type:"payload"`)
}

func TestParseMode(t *testing.T) {
	m, err := timing.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, timing.ModeUser, m)

	m, err = timing.ParseMode("content")
	require.NoError(t, err)
	assert.Equal(t, timing.ModeContent, m)

	_, err = timing.ParseMode("auto")
	assert.Error(t, err)
}
