// Package idle raises a reauthentication prompt when the user has been
// inactive for longer than a deadline derived from the credential expiry.
package idle

import (
	"math"
	"time"

	"github.com/txn2/adminsession/pkg/credential"
)

// Deadline defaults.
const (
	DefaultFloor    = 10 * time.Minute
	DefaultFraction = 0.9
)

// Policy computes idle deadlines.
type Policy struct {
	// Floor is the minimum deadline and the deadline used when no
	// decodable credential is present.
	Floor time.Duration

	// Fraction of the remaining credential lifetime granted as idle time.
	Fraction float64
}

// DefaultPolicy returns the standard 10 minute floor and 0.9 fraction.
func DefaultPolicy() Policy {
	return Policy{Floor: DefaultFloor, Fraction: DefaultFraction}
}

// Deadline returns how long the user may stay idle. With a decodable
// credential it is max(Floor, Fraction × time-to-expiry); otherwise Floor.
func (p Policy) Deadline(cred credential.Credential, ok bool, now time.Time) time.Duration {
	floor := p.Floor
	if floor <= 0 {
		floor = DefaultFloor
	}
	fraction := p.Fraction
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultFraction
	}
	if !ok || cred.IsZero() {
		return floor
	}

	remaining := cred.Remaining(now)
	scaled := time.Duration(math.Round(float64(remaining) * fraction))
	if scaled < floor {
		return floor
	}
	return scaled
}

// Deadline computes the deadline with DefaultPolicy.
func Deadline(cred credential.Credential, ok bool, now time.Time) time.Duration {
	return DefaultPolicy().Deadline(cred, ok, now)
}
