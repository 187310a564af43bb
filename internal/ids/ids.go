package ids

import (
	"crypto/rand"
	"math/big"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	campaignPrefix = "PHISH-"
	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	campaignSuffix = 6
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewCampaignID builds a campaign identifier of the form
// PHISH-<base36 millis>-<6 random base36 chars>, upper-cased.
func NewCampaignID(now time.Time) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 36))
	b.WriteByte('-')
	b.WriteString(randomBase36(campaignSuffix))
	return strings.ToUpper(campaignPrefix + b.String())
}

func randomBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			out[i] = base36Alphabet[mathrand.Intn(len(base36Alphabet))]
			continue
		}
		out[i] = base36Alphabet[v.Int64()]
	}
	return string(out)
}
