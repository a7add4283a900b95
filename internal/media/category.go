// Package media defines the MediaShelf storage key namespace: media
// categories, the content types each category accepts, and the layout of the
// keys objects are stored under.
package media

import (
	"mime"
	"sort"
	"strings"
)

// Category is the top-level partition of the key namespace.
type Category string

const (
	CategoryBook        Category = "book"
	CategoryBookCover   Category = "book-cover"
	CategoryAudio       Category = "audio"
	CategoryAudioCover  Category = "audio-cover"
	CategoryVideo       Category = "video"
	CategoryVideoCover  Category = "video-cover"
	CategoryFolderCover Category = "folder-cover"
	CategoryImage       Category = "image"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryBook,
		CategoryBookCover,
		CategoryAudio,
		CategoryAudioCover,
		CategoryVideo,
		CategoryVideoCover,
		CategoryFolderCover,
		CategoryImage,
	}
}

// ParseCategory returns the category named s.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	_, ok := profiles[c]
	return c, ok
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := profiles[c]
	return ok
}

// Prefix returns the key prefix of the category. It always ends in "/", so
// "book/" never matches keys under "book-cover/".
func (c Category) Prefix() string {
	return string(c) + "/"
}

// DefaultExtension is used when an uploaded filename carries no extension
// recognized for the category.
func (c Category) DefaultExtension() string {
	return profiles[c].defaultExt
}

// Allows reports whether contentType is in the category allowlist.
// Parameters are ignored and matching is case-insensitive.
func (c Category) Allows(contentType string) bool {
	p, ok := profiles[c]
	if !ok {
		return false
	}
	mt := NormalizeContentType(contentType)
	if mt == "" {
		return false
	}
	_, ok = p.types[mt]
	return ok
}

// ContentTypes returns a sorted copy of the category allowlist.
func (c Category) ContentTypes() []string {
	p := profiles[c]
	out := make([]string, 0, len(p.types))
	for t := range p.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c Category) recognizes(ext string) bool {
	_, ok := profiles[c].exts[ext]
	return ok
}

// NormalizeContentType strips parameters from a media type and lowercases it.
// It returns "" if contentType does not parse.
func NormalizeContentType(contentType string) string {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return ""
	}
	return mt
}

type profile struct {
	defaultExt string
	exts       map[string]struct{}
	types      map[string]struct{}
}

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, s := range items {
		m[s] = struct{}{}
	}
	return m
}

func union(sets ...map[string]struct{}) map[string]struct{} {
	m := make(map[string]struct{})
	for _, s := range sets {
		for k := range s {
			m[k] = struct{}{}
		}
	}
	return m
}

var (
	coverTypes = set("image/jpeg", "image/png", "image/webp", "image/gif")
	coverExts  = set("jpg", "jpeg", "png", "webp", "gif")

	coverProfile = profile{defaultExt: "jpg", exts: coverExts, types: coverTypes}
)

// profiles is never written after package initialization.
var profiles = map[Category]profile{
	CategoryBook: {
		defaultExt: "pdf",
		exts:       set("pdf", "epub", "mobi", "azw3", "djvu", "fb2", "txt", "cbz"),
		types: set(
			"application/pdf",
			"application/epub+zip",
			"application/x-mobipocket-ebook",
			"application/vnd.amazon.mobi8-ebook",
			"image/vnd.djvu",
			"application/x-fictionbook+xml",
			"text/plain",
			"application/vnd.comicbook+zip",
		),
	},
	CategoryBookCover:   coverProfile,
	CategoryAudioCover:  coverProfile,
	CategoryVideoCover:  coverProfile,
	CategoryFolderCover: coverProfile,
	CategoryImage: {
		defaultExt: "jpg",
		exts:       union(coverExts, set("avif", "heic", "bmp", "tif", "tiff")),
		types:      union(coverTypes, set("image/avif", "image/heic", "image/bmp", "image/tiff")),
	},
	CategoryAudio: {
		defaultExt: "mp3",
		exts:       set("mp3", "m4a", "m4b", "aac", "ogg", "oga", "opus", "flac", "wav", "weba"),
		types: set(
			"audio/mpeg",
			"audio/mp4",
			"audio/aac",
			"audio/ogg",
			"audio/opus",
			"audio/flac",
			"audio/x-flac",
			"audio/wav",
			"audio/x-wav",
			"audio/webm",
			"audio/x-m4a",
		),
	},
	CategoryVideo: {
		defaultExt: "mp4",
		exts:       set("mp4", "m4v", "webm", "ogv", "mov", "mkv", "avi", "mpeg", "mpg"),
		types: set(
			"video/mp4",
			"video/webm",
			"video/ogg",
			"video/quicktime",
			"video/x-matroska",
			"video/x-msvideo",
			"video/mpeg",
		),
	},
}
