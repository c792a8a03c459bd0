package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"showscrape/internal/model"
)

// IdentityTimeLayout is the seconds-precision UTC form used in identity keys.
const IdentityTimeLayout = "2006-01-02T15:04:05Z"

// MainArtist reduces a headliner name to its identity form: NFC, folded
// case, collapsed whitespace. An empty name becomes the sentinel.
func MainArtist(artists []string) string {
	name := ""
	if len(artists) > 0 {
		name = artists[0]
	}
	name = strings.Join(strings.Fields(norm.NFC.String(name)), " ")
	if name == "" {
		name = model.UnknownPerformer
	}
	// Casers carry state; one per call keeps this safe across goroutines.
	return cases.Fold().String(name)
}

// EventID is the hex SHA-256 of venue|start|main_artist. It is the sole
// deduplication key for stored events.
func EventID(venueID string, startUTC time.Time, artists []string) string {
	key := strings.Join([]string{
		strings.TrimSpace(venueID),
		startUTC.UTC().Format(IdentityTimeLayout),
		MainArtist(artists),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
