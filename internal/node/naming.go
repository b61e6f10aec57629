package node

import (
	"math/rand/v2"
	"slices"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var nouns = []string{
	"falcon", "river", "summit", "spark", "wave", "flame", "storm", "frost",
	"dawn", "dusk", "moon", "star", "cloud", "breeze", "shadow", "echo",
	"forge", "bloom", "drift", "pulse", "glow", "nexus", "prism", "flux",
	"zenith", "aurora", "comet", "nebula", "quasar", "nova", "orbit", "beacon",
	"ember", "crystal", "thunder", "whisper", "canyon", "meadow", "harbor", "peak",
}

const base32Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

// NewID returns a new random node or repository ID.
func NewID() string {
	return uuid.NewString()
}

// shortHash returns 5 base32 characters taken from a fresh UUID.
func shortHash() string {
	id := uuid.New()
	var bits uint64
	for _, b := range id[10:] {
		bits = bits<<8 | uint64(b)
	}
	out := make([]byte, 5)
	for i := range out {
		out[i] = base32Alphabet[bits&0x1f]
		bits >>= 5
	}
	return string(out)
}

// GenerateName returns a name of the form noun-noun-xxxxx that is not in
// existing. After ten collisions it falls back to node-<uuid prefix>.
func GenerateName(existing []string) string {
	for range 10 {
		name := nouns[rand.IntN(len(nouns))] + "-" + nouns[rand.IntN(len(nouns))] + "-" + shortHash()
		if !slices.Contains(existing, name) {
			return name
		}
	}
	return "node-" + uuid.NewString()[:8]
}

// BranchSlug turns a display name into a branch name: lower case, spaces
// become hyphens, and anything other than letters, digits, and hyphens is
// dropped.
func BranchSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r == ' ' || r == '-':
			b.WriteRune('-')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
