package platform_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/perception/pkg/platform"
)

func ptr(s string) *string { return &s }

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		identifier *string
		expected   platform.Platform
	}{
		{name: "absent", identifier: nil, expected: platform.Unknown},
		{name: "empty string", identifier: ptr(""), expected: platform.Etc},
		{
			name:       "iphone",
			identifier: ptr("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"),
			expected:   platform.IOS,
		},
		{
			name:       "ipad",
			identifier: ptr("Mozilla/5.0 (iPad; CPU OS 16_4 like Mac OS X)"),
			expected:   platform.IOS,
		},
		{
			name:       "android",
			identifier: ptr("Mozilla/5.0 (Linux; Android 14; Pixel 8)"),
			expected:   platform.Android,
		},
		{
			name:       "ios wins over android",
			identifier: ptr("Mozilla/5.0 (iPhone; ...) Android"),
			expected:   platform.IOS,
		},
		{
			name:       "android before ios token in string still ios",
			identifier: ptr("Android (iPod)"),
			expected:   platform.IOS,
		},
		{
			name:       "case sensitive ios token",
			identifier: ptr("Mozilla/5.0 (iphone)"),
			expected:   platform.Etc,
		},
		{
			name:       "case sensitive android token",
			identifier: ptr("Mozilla/5.0 (Linux; android 14)"),
			expected:   platform.Etc,
		},
		{
			name:       "token without paren is not ios",
			identifier: ptr("iPhone Safari"),
			expected:   platform.Etc,
		},
		{
			name:       "desktop",
			identifier: ptr("Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0"),
			expected:   platform.Etc,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, platform.Classify(tt.identifier))
		})
	}
}

func TestClassify_IOSTokenAlwaysWins(t *testing.T) {
	suffixes := []string{"", "Android", "Android (iP", "Windows", "(Android)"}
	prefixes := []string{"", "Android ", "Mozilla (Linux; Android) "}

	for _, pre := range prefixes {
		for _, suf := range suffixes {
			id := pre + "(iP" + suf
			assert.Equal(t, platform.IOS, platform.ClassifyString(id), id)
		}
	}
}

func TestAll_SortedLexicographically(t *testing.T) {
	all := platform.All()
	require.Len(t, all, 4)

	for i := 1; i < len(all); i++ {
		assert.Less(t, string(all[i-1]), string(all[i]))
	}
}

func TestParse(t *testing.T) {
	p, err := platform.Parse("android")
	require.NoError(t, err)
	assert.Equal(t, platform.Android, p)

	_, err = platform.Parse("windows")
	require.Error(t, err)
}
