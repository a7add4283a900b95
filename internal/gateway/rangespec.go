package gateway

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/storage"
)

// RangeSpec is a single byte range as written in a Range header, before the
// object size is known. Start is -1 for a suffix range; End is -1 when open.
type RangeSpec struct {
	Start  int64
	End    int64
	Suffix int64
}

// IsSuffix reports whether the range names the last Suffix bytes.
func (r *RangeSpec) IsSuffix() bool { return r.Start < 0 }

func (r *RangeSpec) String() string {
	switch {
	case r.IsSuffix():
		return fmt.Sprintf("bytes=-%d", r.Suffix)
	case r.End < 0:
		return fmt.Sprintf("bytes=%d-", r.Start)
	default:
		return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
	}
}

// ParseRange parses a Range header value. It returns nil for an empty header
// and for a multi-range header, both of which are served as the whole object.
// A single range that cannot be parsed is a MalformedRange error.
func ParseRange(header string) (*RangeSpec, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	unit, spec, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return nil, malformed(header, "expected bytes=<range>")
	}
	if strings.Contains(spec, ",") {
		return nil, nil
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, malformed(header, "missing '-'")
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		if endStr == "" {
			return nil, malformed(header, "both bounds are empty")
		}
		n, err := parseOffset(endStr)
		if err != nil {
			return nil, malformed(header, "invalid suffix length")
		}
		return &RangeSpec{Start: -1, End: -1, Suffix: n}, nil
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return nil, malformed(header, "invalid start")
	}
	if endStr == "" {
		return &RangeSpec{Start: start, End: -1}, nil
	}
	end, err := parseOffset(endStr)
	if err != nil {
		return nil, malformed(header, "invalid end")
	}
	if end == math.MaxInt64 {
		end = -1
	}
	return &RangeSpec{Start: start, End: end}, nil
}

// parseOffset accepts only plain decimal digits; strconv alone would also
// take a sign. A value past int64 saturates to math.MaxInt64: it is still a
// well-formed position, just beyond any object.
func parseOffset(s string) (int64, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt64, nil
	}
	return n, err
}

func malformed(header, reason string) error {
	return gwerr.ErrMalformedRange.WithMessage("Range %q is malformed: %s", header, reason)
}

// Resolve turns the range into absolute offsets within an object of size
// bytes. The end is clamped to the last byte. A range that selects nothing
// is a RangeNotSatisfiable error.
func (r *RangeSpec) Resolve(size int64) (storage.ByteRange, error) {
	unsatisfiable := func() (storage.ByteRange, error) {
		return storage.ByteRange{}, gwerr.ErrRangeNotSatisfiable.WithMessage(
			"Range %s is not satisfiable for an object of %d bytes", r, size)
	}

	if size <= 0 {
		return unsatisfiable()
	}

	if r.IsSuffix() {
		if r.Suffix == 0 {
			return unsatisfiable()
		}
		if r.Suffix >= size {
			return storage.ByteRange{Start: 0, End: size - 1}, nil
		}
		return storage.ByteRange{Start: size - r.Suffix, End: size - 1}, nil
	}

	end := r.End
	if end < 0 || end >= size {
		end = size - 1
	}
	if r.Start >= size || r.Start > end {
		return unsatisfiable()
	}
	return storage.ByteRange{Start: r.Start, End: end}, nil
}
