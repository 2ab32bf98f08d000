package gc

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/weftgraph/weft/internal/werr"
)

// Config holds the human-authored retention windows for the prune and
// stale-upload phases (spec section 4.G). Values are natural-language
// phrases like "1 year ago" or "3 days ago", parsed with
// github.com/olebedev/when rather than a raw duration, so an operator's
// config.yaml reads the way the spec itself describes the windows
// ("an epoch, e.g. one year").
type Config struct {
	// TripleHistoryRetention bounds how far back a superseded triple
	// revision is kept before pruning. Default "1 year ago".
	TripleHistoryRetention string
	// StaleUploadRetention bounds how long an abandoned staged upload is
	// kept before reclamation. Default "3 days ago".
	StaleUploadRetention string
}

func defaultConfig() Config {
	return Config{
		TripleHistoryRetention: "1 year ago",
		StaleUploadRetention:   "3 days ago",
	}
}

func (c Config) tripleHistoryRetention() (time.Duration, error) {
	return parseRetention(c.TripleHistoryRetention)
}

func (c Config) staleUploadTTL() (time.Duration, error) {
	return parseRetention(c.StaleUploadRetention)
}

// parseRetention resolves a phrase like "1 year ago" to how far in the
// past it names, relative to now.
func parseRetention(phrase string) (time.Duration, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	now := time.Now()
	result, err := w.Parse(phrase, now)
	if err != nil {
		return 0, werr.Inputf("retention", "failed to parse retention window %q: %v", phrase, err)
	}
	if result == nil {
		return 0, werr.Inputf("retention", "retention window %q did not match a recognised date phrase", phrase)
	}
	retention := now.Sub(result.Time)
	if retention <= 0 {
		return 0, werr.Inputf("retention", "retention window %q must name a time in the past", phrase)
	}
	return retention, nil
}
