// Package keys holds the closed set of store keys and job names used by repbot.
package keys

import (
	"fmt"
	"strings"
)

// Namespace prefixes every store key.
const Namespace = "repbot:"

// StoreKey names a collection or marker in the score store.
type StoreKey string

const (
	ScoresAllTime StoreKey = Namespace + "scores:alltime"
	ScoresDaily   StoreKey = Namespace + "scores:daily"
	ScoresWeekly  StoreKey = Namespace + "scores:weekly"
	ScoresMonthly StoreKey = Namespace + "scores:monthly"
	ScoresYearly  StoreKey = Namespace + "scores:yearly"

	// CleanupLog orders users by their next liveness check (unix seconds).
	CleanupLog StoreKey = Namespace + "cleanup:log"

	// BootstrapMarker holds the app version that last ran first-run setup.
	BootstrapMarker StoreKey = Namespace + "marker:bootstrap"
	// CleanupIntervalMarker holds the check interval the cleanup log was built with.
	CleanupIntervalMarker StoreKey = Namespace + "marker:cleanup-interval"

	// AwardMarkerPrefix prefixes per (target, awarder) dedup markers.
	AwardMarkerPrefix StoreKey = Namespace + "awarded:"
)

// StoreKeys lists every fixed store key.
var StoreKeys = []StoreKey{
	ScoresAllTime,
	ScoresDaily,
	ScoresWeekly,
	ScoresMonthly,
	ScoresYearly,
	CleanupLog,
	BootstrapMarker,
	CleanupIntervalMarker,
	AwardMarkerPrefix,
}

// AwardMarker returns the dedup marker key for one (target, awarder) pair.
func AwardMarker(targetID, awarder string) string {
	return string(AwardMarkerPrefix) + targetID + ":" + strings.ToLower(awarder)
}

// JobName identifies a scheduled job handler.
type JobName string

const (
	JobLeaderboardRebuild JobName = "leaderboard-rebuild"
	JobCleanupSweep       JobName = "cleanup-sweep"
	JobAdhocCleanupSweep  JobName = "ad-hoc-cleanup-sweep"
	JobRegexValidation    JobName = "regex-validation"
)

// JobNames lists every job the runner knows how to dispatch.
var JobNames = []JobName{
	JobLeaderboardRebuild,
	JobCleanupSweep,
	JobAdhocCleanupSweep,
	JobRegexValidation,
}

// ParseJobName maps a stored job name back onto the closed set.
func ParseJobName(s string) (JobName, error) {
	for _, name := range JobNames {
		if string(name) == s {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown job name %q", s)
}

// Validate checks the enumerations for namespacing and uniqueness.
func Validate() error {
	seenKeys := make(map[StoreKey]bool, len(StoreKeys))
	for _, key := range StoreKeys {
		if !strings.HasPrefix(string(key), Namespace) || len(key) == len(Namespace) {
			return fmt.Errorf("store key %q is not namespaced", key)
		}
		if seenKeys[key] {
			return fmt.Errorf("duplicate store key %q", key)
		}
		seenKeys[key] = true
	}

	seenJobs := make(map[JobName]bool, len(JobNames))
	for _, name := range JobNames {
		if strings.TrimSpace(string(name)) == "" {
			return fmt.Errorf("empty job name")
		}
		if seenJobs[name] {
			return fmt.Errorf("duplicate job name %q", name)
		}
		seenJobs[name] = true
	}
	return nil
}
