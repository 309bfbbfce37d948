// Package constants provides named constants used throughout popgate.
// This centralizes magic numbers for better maintainability and documentation.
package constants

import "time"

// Bounded history caps. When a sequence grows past its max it is cut back to
// its trim length, discarding the oldest entries first.
const (
	// MaxVisitorHistory is the largest number of show events kept per visitor.
	MaxVisitorHistory = 100

	// VisitorHistoryTrim is the number of most recent show events kept after trimming.
	VisitorHistoryTrim = 50

	// MaxInteractionTimestamps is the largest number of interaction times kept per profile.
	MaxInteractionTimestamps = 50

	// InteractionTimestampsTrim is the number of interaction times kept after trimming.
	InteractionTimestampsTrim = 25
)

// Behavior classification thresholds. Ratios are relative to times shown.
const (
	// ConvertedRatioThreshold is the conversion ratio above which a visitor counts as converted.
	ConvertedRatioThreshold = 0.10

	// DismisserRatioThreshold is the dismissal ratio above which a visitor counts as a dismisser.
	DismisserRatioThreshold = 0.80

	// EngagedMinInteractions is the interaction count a visitor must exceed to count as engaged.
	EngagedMinInteractions = 5

	// EngagedMaxDismissRatio is the dismissal ratio an engaged visitor must stay below.
	EngagedMaxDismissRatio = 0.30
)

// Adaptive adjustment and throttling defaults.
const (
	// DismissDecayFactor multiplies a visitor's daily cap on every dismissal.
	DismissDecayFactor = 0.8

	// ConvertedMaxPerDay is the daily cap applied after a conversion.
	ConvertedMaxPerDay = 1

	// DefaultDismisserAdmitRate is the admission probability for a visitor
	// right at the dismisser threshold. It falls linearly with the dismissal
	// ratio down to DismisserMinAdmitShare of itself.
	DefaultDismisserAdmitRate = 0.30

	// DismisserMinAdmitShare is the smallest share of the dismisser admit rate
	// a visitor keeps, however many popups they dismissed. Dismissers are
	// throttled, never denied outright.
	DismisserMinAdmitShare = 0.10

	// DefaultConvertedAdmitRate is the residual admission probability for converted visitors.
	DefaultConvertedAdmitRate = 0.10
)

// Engine-wide defaults used when no configuration overrides them.
const (
	// DefaultMaxPerDay is the default per-visitor daily cap across all popups.
	DefaultMaxPerDay = 3

	// DefaultMaxPerSession is the default per-session cap.
	DefaultMaxPerSession = 2

	// DefaultCooldown is the default minimum time between two shows of one popup to one visitor.
	DefaultCooldown = 30 * time.Minute

	// DefaultShardCount is the number of shards each keyed store is split into.
	DefaultShardCount = 32

	// DefaultMaxVisitors bounds the number of visitor records held in memory.
	DefaultMaxVisitors = 1_000_000
)

// Analytics recommendations. These are advisory and never fed back into the engine.
const (
	// RecommendedMaxPerDay is the daily cap suggested by the analytics report.
	RecommendedMaxPerDay = 3

	// RecommendedCooldown is the cooldown suggested by the analytics report.
	RecommendedCooldown = 24 * time.Hour

	// HighFrequencyShare is the share of visitors in the 6+ buckets that triggers a fatigue suggestion.
	HighFrequencyShare = 0.20

	// DefaultReportWindowDays is the analytics window used when callers pass none.
	DefaultReportWindowDays = 7

	// HighDismisserShare is the share of dismisser visitors that triggers a throttling suggestion.
	HighDismisserShare = 0.30
)

// Backup rotation controls how many snapshot files are retained.
const (
	// MaxSnapshotRotation is the default maximum number of snapshot files to keep.
	MaxSnapshotRotation = 10
)
