package source

import (
	"net/url"
	"strings"
)

const watchURL = "https://www.youtube.com/watch?v="

// Schemes the decoder opens directly, without asking the extractor.
var directSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"rtmp":  true,
	"rtmps": true,
	"srt":   true,
	"udp":   true,
}

// parseRemote validates a remote URL. Only absolute URLs with a host are accepted.
func parseRemote(input string) (*url.URL, bool) {
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, true
	default:
		return u, directSchemes[strings.ToLower(u.Scheme)]
	}
}

// Canonicalize rewrites short-form sharing URLs to the long watch form:
//
//	https://www.youtube.com/shorts/<id>  -> https://www.youtube.com/watch?v=<id>
//	https://youtu.be/<id>                -> https://www.youtube.com/watch?v=<id>
//
// Any other URL is returned unchanged.
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")

	switch {
	case host == "youtube.com" && strings.HasPrefix(u.Path, "/shorts/"):
		if id := firstSegment(strings.TrimPrefix(u.Path, "/shorts/")); id != "" {
			return watchURL + id
		}
	case host == "youtu.be":
		if id := firstSegment(strings.TrimPrefix(u.Path, "/")); id != "" {
			return watchURL + id
		}
	}
	return raw
}

func firstSegment(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
