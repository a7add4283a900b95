package media

import (
	"path"
	"strings"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/uid"
)

const (
	maxOwnerIDLen = 128
	maxExtLen     = 10
)

// Key is a parsed storage key of the form {category}/{ownerId}/{discriminator}.{ext}.
type Key struct {
	Category      Category
	OwnerID       string
	Discriminator string
	Ext           string
}

// String returns the key in its stored form.
func (k Key) String() string {
	return string(k.Category) + "/" + k.OwnerID + "/" + k.Discriminator + "." + k.Ext
}

// GenerateKey builds a fresh key for an upload. The extension is taken from
// originalFilename when the category recognizes it, otherwise the category
// default is used. The discriminator never derives from the filename.
func GenerateKey(category Category, ownerID, originalFilename string) (Key, error) {
	if !category.Valid() {
		return Key{}, gwerr.ErrInvalidCategory.WithMessage("unknown media category %q", category)
	}
	if !validOwnerID(ownerID) {
		return Key{}, gwerr.ErrInvalidOwner.WithMessage("owner id %q cannot be used in a storage key", ownerID)
	}
	return Key{
		Category:      category,
		OwnerID:       ownerID,
		Discriminator: uid.New(),
		Ext:           extensionFor(category, originalFilename),
	}, nil
}

// ParseKey validates a stored key. Keys that do not follow the layout are
// rejected so a caller cannot address objects outside the namespace.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Key{}, gwerr.ErrInvalidKey.WithMessage("key %q must have the form category/owner/name.ext", s)
	}
	cat, ok := ParseCategory(parts[0])
	if !ok {
		return Key{}, gwerr.ErrInvalidKey.WithMessage("key %q has unknown category %q", s, parts[0])
	}
	if !validOwnerID(parts[1]) {
		return Key{}, gwerr.ErrInvalidKey.WithMessage("key %q has an invalid owner segment", s)
	}
	name := parts[2]
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return Key{}, gwerr.ErrInvalidKey.WithMessage("key %q has no extension", s)
	}
	disc, ext := name[:dot], name[dot+1:]
	if !validDiscriminator(disc) || !validExt(ext) {
		return Key{}, gwerr.ErrInvalidKey.WithMessage("key %q has an invalid object name", s)
	}
	return Key{Category: cat, OwnerID: parts[1], Discriminator: disc, Ext: ext}, nil
}

func extensionFor(category Category, filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.ReplaceAll(filename, "\\", "/")), "."))
	if ext != "" && category.recognizes(ext) {
		return ext
	}
	return category.DefaultExtension()
}

func validOwnerID(s string) bool {
	if s == "" || len(s) > maxOwnerIDLen || s == "." || s == ".." {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

func validDiscriminator(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && c != '-' {
			return false
		}
	}
	return true
}

func validExt(s string) bool {
	if s == "" || len(s) > maxExtLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}
