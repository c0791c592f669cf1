package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPlatform is returned by Parse for names outside All.
var ErrUnknownPlatform = errors.New("unknown platform")

// Platform is a coarse client classification derived from a client
// identifier (user agent) string.
type Platform string

// Platform tags. The string values sort lexicographically and are used as
// the second component of the run index key.
const (
	Android Platform = "android"
	Etc     Platform = "etc"
	IOS     Platform = "ios"
	Unknown Platform = "unknown"
)

const (
	iosToken     = "(iP"
	androidToken = "Android"
)

// Classify maps a client identifier to its platform. An absent identifier
// is unknown. Matching is case-sensitive and the iOS token wins over the
// Android token when both are present.
func Classify(identifier *string) Platform {
	if identifier == nil {
		return Unknown
	}

	return ClassifyString(*identifier)
}

// ClassifyString classifies a present identifier.
func ClassifyString(identifier string) Platform {
	switch {
	case strings.Contains(identifier, iosToken):
		return IOS
	case strings.Contains(identifier, androidToken):
		return Android
	default:
		return Etc
	}
}

// All returns every platform tag in key order.
func All() []Platform {
	return []Platform{Android, Etc, IOS, Unknown}
}

// Parse validates a platform name.
func Parse(s string) (Platform, error) {
	for _, p := range All() {
		if string(p) == s {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w %q", ErrUnknownPlatform, s)
}

func (p Platform) String() string {
	return string(p)
}
