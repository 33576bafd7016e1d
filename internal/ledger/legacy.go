package ledger

import (
	"regexp"
	"strings"
	"time"
)

var (
	legacyLockedTag = regexp.MustCompile(`(?i)\[locked\]`)
	legacyClosedTag = regexp.MustCompile(`(?i)\[closed:(\d{4}-\d{2}-\d{2})\]`)
	extraSpace      = regexp.MustCompile(`\s{2,}`)
)

// LegacyLock is the structured form of lock tags once embedded in month notes.
type LegacyLock struct {
	Locked   bool
	ClosedAt *time.Time
	Notes    string
	// Tagged is true when any recognised tag was found.
	Tagged bool
}

// ParseLegacyNotes extracts "[locked]" and "[closed:YYYY-MM-DD]" markers from imported notes
// and returns the notes with the markers stripped. A closing date alone implies a lock.
// An unparseable date leaves the marker text in place.
func ParseLegacyNotes(notes string) LegacyLock {
	out := LegacyLock{Notes: notes}
	if legacyLockedTag.MatchString(notes) {
		out.Locked = true
		out.Tagged = true
		out.Notes = legacyLockedTag.ReplaceAllString(out.Notes, " ")
	}
	if m := legacyClosedTag.FindStringSubmatch(out.Notes); m != nil {
		if closed, err := time.Parse("2006-01-02", m[1]); err == nil {
			out.ClosedAt = &closed
			out.Locked = true
			out.Tagged = true
			out.Notes = legacyClosedTag.ReplaceAllString(out.Notes, " ")
		}
	}
	if out.Tagged {
		out.Notes = strings.TrimSpace(extraSpace.ReplaceAllString(out.Notes, " "))
	}
	return out
}
