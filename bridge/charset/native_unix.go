//go:build !windows

package charset

import (
	"os"
	"strings"
)

// Native returns the charset of the process locale, taken from LC_ALL, LC_CTYPE, then LANG.
// A locale without a charset, or one that cannot be looked up, means UTF-8.
func Native() Candidate {
	return nativeFromEnv(os.Getenv)
}

func nativeFromEnv(getenv func(string) string) Candidate {
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		locale := getenv(key)
		if locale == "" {
			continue
		}
		c, err := Lookup(localeCharset(locale))
		if err != nil {
			return UTF8
		}
		return c
	}
	return UTF8
}

// localeCharset extracts the codeset from a locale name of the form language_TERRITORY.codeset@modifier.
func localeCharset(locale string) string {
	if i := strings.IndexByte(locale, '@'); i >= 0 {
		locale = locale[:i]
	}
	i := strings.IndexByte(locale, '.')
	if i < 0 {
		return "utf-8"
	}
	return locale[i+1:]
}
