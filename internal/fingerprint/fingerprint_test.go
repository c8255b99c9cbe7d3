package fingerprint

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsDeterministic(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := New("user@example.com", "Help", ts, "I need assistance")
	b := New("user@example.com", "Help", ts, "I need assistance")

	assert.Equal(t, a, b)
	assert.Len(t, a.String(), 64)
}

func TestNewDiffersPerField(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	base := New("user@example.com", "Help", ts, "body")

	cases := map[string]Fingerprint{
		"sender":    New("other@example.com", "Help", ts, "body"),
		"subject":   New("user@example.com", "Other", ts, "body"),
		"timestamp": New("user@example.com", "Help", ts.Add(time.Second), "body"),
		"body":      New("user@example.com", "Help", ts, "different"),
	}

	for name, fp := range cases {
		assert.NotEqual(t, base, fp, "changing %s must change the fingerprint", name)
	}
}

func TestNewTruncatesBodyPrefix(t *testing.T) {
	ts := time.Now()
	prefix := strings.Repeat("x", bodyPrefixLen)

	short := New("a@b.c", "s", ts, prefix)
	long := New("a@b.c", "s", ts, prefix+strings.Repeat("y", 1000))

	// Bodies identical through the prefix hash identically.
	require.Equal(t, short, long)

	differing := New("a@b.c", "s", ts, strings.Repeat("z", bodyPrefixLen))
	assert.NotEqual(t, short, differing)
}

func TestNewTimezoneInsensitive(t *testing.T) {
	utc := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	est := utc.In(time.FixedZone("EST", -5*3600))

	assert.Equal(t,
		New("a@b.c", "s", utc, "body"),
		New("a@b.c", "s", est, "body"),
	)
}
