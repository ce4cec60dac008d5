package catset

import "strings"

// DecorativePatterns are URL substrings of platform chrome that shows up next
// to post photos: emoji, stickers, awards and profile pictures.
var DecorativePatterns = []string{
	"emoji", "sticker", "avatar", "userpic", "award",
	"icon", "logo", "badge", "favicon", "sprite",
}

// IsDecorativeURL reports whether a lowercased URL looks like a decoration
// rather than a photo.
func IsDecorativeURL(lower string) bool {
	for _, p := range DecorativePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
