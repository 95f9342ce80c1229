package api

import (
	"net/url"
	"regexp"
	"strings"
)

// ttsTextParam matches the bare speech parameter carried by a v2 TTS URL.
var ttsTextParam = regexp.MustCompile(`[&?]text=`)

// StripTTSText converts a v2 speech server URL back to its v1 form by
// removing the trailing bare text parameter.
func StripTTSText(ttsURL string) string {
	return ttsTextParam.ReplaceAllString(ttsURL, "")
}

// ConstructTTSURL rewrites a speech server URL into the v2 form satellite
// firmware expects: parameters keep first-appearance order, parameters with
// blank values are dropped, any existing text value is discarded, and a bare
// "text=" lands at the end so the device can append the phrase verbatim.
func ConstructTTSURL(ttsURL string) (string, error) {
	u, err := url.Parse(ttsURL)
	if err != nil {
		return "", err
	}

	if u.RawQuery == "" {
		u.RawQuery = "text="
		return u.String(), nil
	}

	type param struct {
		key    string
		values []string
	}
	var params []param
	index := make(map[string]int)

	for _, seg := range strings.Split(u.RawQuery, "&") {
		if seg == "" {
			continue
		}
		key, value, _ := strings.Cut(seg, "=")
		if value == "" {
			continue
		}
		k := unescapeOr(key)
		if k == "text" {
			continue
		}
		i, ok := index[k]
		if !ok {
			i = len(params)
			index[k] = i
			params = append(params, param{key: k})
		}
		params[i].values = append(params[i].values, unescapeOr(value))
	}

	var b strings.Builder
	for _, p := range params {
		for _, v := range p.values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	if b.Len() > 0 {
		b.WriteByte('&')
	}
	b.WriteString("text=")

	u.RawQuery = b.String()
	return u.String(), nil
}

// unescapeOr decodes a query token, passing malformed escapes through
// unchanged rather than failing the whole URL.
func unescapeOr(s string) string {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return out
}
