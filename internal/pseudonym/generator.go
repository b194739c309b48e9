// Package pseudonym draws realistic, deterministic surrogate values for
// detected PII. No fake-data library appears anywhere in the retrieved
// reference corpus, so generation is hand-written against math/rand —
// see DESIGN.md's standard-library justifications.
//
// Determinism contract (spec §4.2): draw(kind, seed_material) is seeded
// from (global_seed, kind, real_value), so the same real value always
// produces the same fake value given the same global seed, independent of
// process order or whether the mapping store has ever seen the value
// before. The generator never emits the original string.
package pseudonym

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/url"
	"strconv"
	"strings"

	"mcpshield/internal/detect"

	"golang.org/x/net/publicsuffix"
)

// Generator draws pseudo-anonymous surrogate values per entity kind.
type Generator struct {
	globalSeed uint64
}

// New returns a Generator seeded by globalSeed (config: [faker].seed).
func New(globalSeed uint64) *Generator {
	return &Generator{globalSeed: globalSeed}
}

// Draw returns a realistic surrogate for real, classified as kind. The
// result is guaranteed to differ from real.
func (g *Generator) Draw(kind detect.Kind, real string) string {
	out := g.DrawAttempt(kind, real, 0)

	// Non-identity law: retry with a derived sub-stream if the draw
	// happened to reproduce the input (vanishingly rare, but spec-mandated).
	for attempt := uint64(1); out == real && attempt < 8; attempt++ {
		out = g.DrawAttempt(kind, real, attempt)
	}
	return out
}

// DrawAttempt draws the attempt'th candidate surrogate for (kind, real).
// The mapping store calls this directly when attempt 0 collides with an
// existing fake value for the same kind, walking attempt upward until a
// free slot is found (spec §4.1: 16-attempt collision retry).
func (g *Generator) DrawAttempt(kind detect.Kind, real string, attempt uint64) string {
	r := g.rngFor(kind, real, attempt)
	return g.drawOnce(kind, real, r)
}

// rngFor derives a private *rand.Rand from (globalSeed, kind, real,
// attempt) via FNV-1a, so draws are reproducible without persisting any
// per-value random state.
func (g *Generator) rngFor(kind detect.Kind, real string, attempt uint64) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%d", g.globalSeed, kind, real, attempt)
	return rand.New(rand.NewSource(int64(h.Sum64()))) // #nosec G404 -- deterministic surrogate generation, not security-sensitive
}

func (g *Generator) drawOnce(kind detect.Kind, real string, r *rand.Rand) string {
	switch kind {
	case detect.KindPersonName:
		return g.drawName(r)
	case detect.KindEmail:
		return g.drawEmail(r)
	case detect.KindPhone:
		return g.drawPhone(r)
	case detect.KindSSN:
		return g.drawSSN(r)
	case detect.KindCreditCard:
		return g.drawCreditCard(r)
	case detect.KindIPAddress:
		return g.drawIPAddress(r, real)
	case detect.KindHostname:
		return preserveShape(r, real)
	case detect.KindNodeName:
		return preserveShape(r, real)
	case detect.KindURL:
		return g.drawURL(r, real)
	default:
		return preserveShape(r, real)
	}
}

var firstNames = []string{
	"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael",
	"Linda", "David", "Elizabeth", "William", "Barbara", "Richard", "Susan",
	"Joseph", "Jessica", "Thomas", "Sarah", "Charles", "Karen", "Daniel",
	"Nancy", "Matthew", "Lisa", "Anthony", "Margaret", "Priya", "Wei",
	"Fatima", "Hiroshi",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
	"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez",
	"Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin",
	"Chen", "Khan", "Nguyen", "Kim",
}

func (g *Generator) drawName(r *rand.Rand) string {
	return firstNames[r.Intn(len(firstNames))] + " " + lastNames[r.Intn(len(lastNames))]
}

var fakeDomains = []string{
	"example.test", "mailbox.invalid", "corp.example", "inbox.test",
	"relay.invalid",
}

// fakeMultiLabelDomains mirrors the shape of a real eTLD+1 whose public
// suffix is itself multi-label (e.g. "co.uk", "com.au"), so a surrogate
// for "corp.co.uk" doesn't collapse to a single-label-TLD domain like
// "example.test" and give away that it's synthetic by shape alone.
var fakeMultiLabelDomains = []string{
	"example.co.test", "mailbox.org.invalid", "corp.ac.example",
	"inbox.gov.test", "relay.co.invalid",
}

func (g *Generator) drawEmail(r *rand.Rand) string {
	local := strings.ToLower(firstNames[r.Intn(len(firstNames))]) +
		strconv.Itoa(r.Intn(900)+100)
	domain := fakeDomains[r.Intn(len(fakeDomains))]
	return local + "@" + domain
}

// drawPhone returns a NANP-shaped number, avoiding N11 and 555-01xx test
// exchanges being mistaken for something live by using the 555 exchange
// with the reserved fictional range (555-0100 through 555-0199).
func (g *Generator) drawPhone(r *rand.Rand) string {
	area := 200 + r.Intn(800) // avoid 0xx/1xx area codes
	line := 100 + r.Intn(100) // 555-01xx reserved-for-fiction range
	return fmt.Sprintf("(%03d) 555-01%02d", area, line%100)
}

// drawSSN returns a format-XXX-XX-XXXX value, never using an SSA-reserved
// area (000, 666, 900-999) or a zero group/serial.
func (g *Generator) drawSSN(r *rand.Rand) string {
	area := r.Intn(899) + 1
	if area == 666 {
		area = 667
	}
	group := r.Intn(99) + 1
	serial := r.Intn(9999) + 1
	return fmt.Sprintf("%03d-%02d-%04d", area, group, serial)
}

// drawCreditCard returns a Luhn-valid 16-digit number in Visa's published
// test-card IIN range (4000 00xx xxxx xxxx never routes to a real issuer).
func (g *Generator) drawCreditCard(r *rand.Rand) string {
	digits := make([]int, 16)
	digits[0], digits[1], digits[2], digits[3] = 4, 0, 0, 0
	for i := 6; i < 15; i++ {
		digits[i] = r.Intn(10)
	}
	digits[15] = luhnCheckDigit(digits[:15])

	var sb strings.Builder
	for i, d := range digits {
		if i > 0 && i%4 == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(byte('0' + d))
	}
	return sb.String()
}

func luhnCheckDigit(digits []int) int {
	sum := 0
	// Luhn from the rightmost digit of the check-digit-inclusive number:
	// digits here are all but the check digit, so every digit at an
	// odd distance from the (not-yet-placed) check digit is doubled.
	parity := (len(digits) + 1) % 2
	for i, d := range digits {
		if i%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return (10 - sum%10) % 10
}

// drawIPAddress returns a documentation-range address (RFC 5737 for IPv4,
// RFC 3849 for IPv6) in the same family as real.
func (g *Generator) drawIPAddress(r *rand.Rand, real string) string {
	if strings.Contains(real, ":") {
		return fmt.Sprintf("2001:db8::%x:%x", r.Intn(0x10000), r.Intn(0x10000))
	}
	blocks := [][2]int{{192, 0}, {198, 51}, {203, 0}} // .0.2, .51.100, .0.113 prefixes below
	b := blocks[r.Intn(len(blocks))]
	third := map[int]int{192: 2, 198: 100, 203: 113}[b[0]]
	if b[0] == 198 {
		third = 100
		b[1] = 51
	}
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], third, r.Intn(254)+1)
}

// drawURL preserves the scheme, replaces the host with a synthetic
// domain shaped like the real one, and resamples path tokens with
// preserveShape. If the real host's public suffix is itself multi-label
// (e.g. "co.uk", "com.au"), the synthetic domain is drawn from a
// same-shaped pool instead of a plain single-label-TLD one, so the
// surrogate doesn't give away its syntheticness by suffix shape alone.
func (g *Generator) drawURL(r *rand.Rand, real string) string {
	u, err := url.Parse(real)
	scheme := "https"
	path := ""
	realHost := ""
	if err == nil {
		if u.Scheme != "" {
			scheme = u.Scheme
		}
		path = u.Path
		realHost = u.Hostname()
	}

	pool := fakeDomains
	if realHost != "" {
		if suffix, _ := publicsuffix.PublicSuffix(realHost); strings.Contains(suffix, ".") {
			pool = fakeMultiLabelDomains
		}
	}
	domain := pool[r.Intn(len(pool))]

	out := scheme + "://" + domain
	if path != "" {
		out += preserveShape(r, path)
	}
	return out
}

// preserveShape resamples alphanumeric runs in s while keeping every
// other byte (dashes, dots, underscores, slashes) in place, so a hostname
// like "ubuntu-linux-2404" becomes another dash-separated
// letters/digits token of the same shape, and a node name like "node01"
// keeps its non-alphanumeric structure.
func preserveShape(r *rand.Rand, s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = byte('a' + r.Intn(26))
		case c >= 'A' && c <= 'Z':
			out[i] = byte('A' + r.Intn(26))
		case c >= '0' && c <= '9':
			out[i] = byte('0' + r.Intn(10))
		default:
			out[i] = c
		}
	}
	return string(out)
}
