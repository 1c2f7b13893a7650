// Package frame implements the line/byte framing of a payload stream.
//
// A stream is a sequence of units followed by a sentinel line:
//
//	<name>\n
//	<decimal length>\n
//	<exactly length raw bytes>
//	...
//	EOPayLoad\n
//
// Blank name lines are keep-alives and are skipped.  There is no
// checksum or acknowledgement; the transport is trusted.
package frame

import (
	"errors"
	"fmt"
	"strings"

	sherr "stagehand/internal/errors"
)

// Sentinel terminates a payload stream.
const Sentinel = "EOPayLoad"

var (
	// ErrEndOfPayload is returned by Reader.Next once the sentinel has
	// been read.
	ErrEndOfPayload = sherr.ErrEndOfPayload

	ErrWriterClosed = errors.New("frame: writer closed")
	ErrBadName      = errors.New("frame: invalid unit name")
)

// Unit is one named source blob.
type Unit struct {
	Name    string
	Length  int64
	Content []byte
}

// Limits constrains decode memory use.
type Limits struct {
	MaxUnitBytes int64 // 0 disables the check
}

func DefaultLimits() Limits {
	return Limits{MaxUnitBytes: 64 << 20}
}

// ValidateName reports whether name can be framed: non-empty printable
// ASCII without whitespace, no empty dotted segments, and not the
// sentinel itself.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrBadName)
	}
	if name == Sentinel {
		return fmt.Errorf("%w: %q is reserved", ErrBadName, name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f {
			return fmt.Errorf("%w: %q has a non-printable or non-ASCII byte at %d", ErrBadName, name, i)
		}
	}
	for _, seg := range strings.Split(name, ".") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrBadName, name)
		}
	}
	return nil
}

// isASCII reports whether s can be decoded as ASCII text.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
