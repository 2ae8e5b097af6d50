// Package identifier generates and validates collision-resistant identifiers
// for folders, tasks, and other entities, grounded on the teacher's
// pkg/identifier package: a short lowercase prefix, an underscore, and a
// fixed-length Base62-encoded random suffix.
package identifier

import (
	"errors"
	"regexp"
	"strings"

	"github.com/eknkc/basex"

	"github.com/okets/folder-mcp/internal/random"
)

const (
	// PrefixFolder is the prefix used for folder identifiers.
	PrefixFolder = "fldr"
	// PrefixTask is the prefix used for file-embedding task identifiers.
	PrefixTask = "task"
	// PrefixModel is the prefix used for model instance identifiers.
	PrefixModel = "mdlh"

	requiredPrefixLength = 4
	collisionResistantLength = 32
	// targetBase62Length is the maximum length a 32-byte value can take when
	// Base62-encoded: ceil(32*8*ln(2)/ln(62)).
	targetBase62Length = 43

	base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var (
	matcher  = regexp.MustCompile("^[a-z]{4}_[0-9a-zA-Z]{43}$")
	base62   *basex.Encoding
)

func init() {
	encoding, err := basex.NewEncoding(base62Alphabet)
	if err != nil {
		panic("unable to initialize Base62 encoder")
	}
	base62 = encoding
}

// New generates a new collision-resistant identifier with the given prefix.
// The prefix must be exactly 4 lowercase ASCII letters.
func New(prefix string) (string, error) {
	if len(prefix) != requiredPrefixLength {
		return "", errors.New("incorrect prefix length")
	}
	for _, r := range prefix {
		if r < 'a' || r > 'z' {
			return "", errors.New("invalid prefix character")
		}
	}

	value, err := random.New(collisionResistantLength)
	if err != nil {
		return "", err
	}

	encoded := base62.Encode(value)
	if len(encoded) > targetBase62Length {
		panic("encoded random data length longer than expected")
	}

	builder := &strings.Builder{}
	builder.WriteString(prefix)
	builder.WriteRune('_')
	for i := targetBase62Length - len(encoded); i > 0; i-- {
		builder.WriteByte(base62Alphabet[0])
	}
	builder.WriteString(encoded)

	return builder.String(), nil
}

// IsValid reports whether value is a syntactically valid identifier.
func IsValid(value string) bool {
	return matcher.MatchString(value)
}
