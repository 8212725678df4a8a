package media

import (
	"net/url"
	"regexp"
	"strings"
)

var videoIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// WatchURL is the canonical page for a YouTube video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func MusicURL(id string) string {
	return "https://music.youtube.com/watch?v=" + id
}

func ThumbnailURL(id string) string {
	if !IsVideoID(id) {
		return ""
	}
	return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
}

func IsVideoID(s string) bool {
	return videoIDRegex.MatchString(s)
}

func IsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isYouTubeHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtube.com", "music.youtube.com", "youtu.be", "youtube-nocookie.com":
		return true
	}
	return false
}

// ExtractVideoID pulls the video id out of watch, short, shorts and embed links.
// It returns "" for anything that is not a single YouTube video.
func ExtractVideoID(raw string) string {
	raw = strings.TrimSpace(raw)
	if IsVideoID(raw) {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || !isYouTubeHost(u.Host) {
		return ""
	}

	var id string
	if strings.EqualFold(strings.TrimPrefix(u.Host, "www."), "youtu.be") {
		id = strings.Trim(u.Path, "/")
	} else if v := u.Query().Get("v"); v != "" {
		id = v
	} else {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live") {
			id = parts[1]
		}
	}
	if !IsVideoID(id) {
		return ""
	}
	return id
}

// IsPlaylistURL reports whether the link names a playlist rather than one video.
// Watch links that merely carry a list parameter count as single videos.
func IsPlaylistURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	if isYouTubeHost(u.Host) {
		return u.Query().Get("list") != "" && strings.Trim(u.Path, "/") == "playlist"
	}
	lower := strings.ToLower(u.Path)
	return strings.Contains(lower, "/playlist") || strings.Contains(lower, "/sets/") || strings.Contains(lower, "/album")
}

// RadioURL is the YouTube Music radio seeded by id.
func RadioURL(id string) string {
	return "https://music.youtube.com/watch?v=" + id + "&list=RDAMVM" + id
}

// MixURL is the classic YouTube mix seeded by id.
func MixURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id + "&list=RD" + id
}
