package portalsync

import (
	"net/url"
	"strings"
)

// galleryFolderToken returns the storage-folder segment of an image URL: the
// path segment immediately before the file name. Empty when the URL has no
// usable path.
func galleryFolderToken(imageURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 {
		return ""
	}
	return segments[len(segments)-2]
}

// filterGalleryImages enforces the gallery invariant: the portal's gallery
// widget can transiently surface cross-references to other lots' images, so
// the folder token of the FIRST image seen for a lot is authoritative and
// every later URL with a different token is discarded. Order is preserved
// and duplicates are dropped.
func filterGalleryImages(urls []string) []string {
	var token string
	seen := make(map[string]struct{}, len(urls))
	result := make([]string, 0, len(urls))

	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		t := galleryFolderToken(u)
		if t == "" {
			continue
		}
		if token == "" {
			token = t
		}
		if t != token {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		result = append(result, u)
	}
	return result
}
