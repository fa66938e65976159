package sync

import (
	"fmt"
	"time"
)

// Winner names the side whose content survives a conflict.
type Winner int

const (
	WinnerLocal Winner = iota
	WinnerRemote
)

// String returns a human-readable name for the winning side.
func (w Winner) String() string {
	if w == WinnerRemote {
		return "remote"
	}
	return "local"
}

// Resolution is the outcome of a conflict decision. The reason is
// logged so a surprised user can see why an edit disappeared.
type Resolution struct {
	Winner      Winner
	Reason      string
	WinningTime time.Time
	LosingTime  time.Time
}

// Resolve decides a both-sides-changed conflict by comparing the local
// change detection time against the remote's LAST-MODIFIED. The remote
// wins only when its timestamp is strictly newer; a tie keeps the local
// version, because the local file is the store the user is looking at.
// The loser is overwritten whole - fields are never merged.
func Resolve(localModified, remoteModified time.Time) Resolution {
	switch {
	case remoteModified.After(localModified):
		return Resolution{
			Winner: WinnerRemote,
			Reason: fmt.Sprintf("remote modified %s, after local %s",
				remoteModified.UTC().Format(time.RFC3339), localModified.UTC().Format(time.RFC3339)),
			WinningTime: remoteModified,
			LosingTime:  localModified,
		}
	case localModified.After(remoteModified):
		return Resolution{
			Winner: WinnerLocal,
			Reason: fmt.Sprintf("local modified %s, after remote %s",
				localModified.UTC().Format(time.RFC3339), remoteModified.UTC().Format(time.RFC3339)),
			WinningTime: localModified,
			LosingTime:  remoteModified,
		}
	default:
		return Resolution{
			Winner:      WinnerLocal,
			Reason:      "both sides modified at the same instant; local wins ties",
			WinningTime: localModified,
			LosingTime:  remoteModified,
		}
	}
}
