package domain

// Strategy selects how a local/remote divergence is settled.
type Strategy string

const (
	StrategyLocalWins  Strategy = "local_wins"
	StrategyRemoteWins Strategy = "remote_wins"
	StrategyNewestWins Strategy = "newest_wins"
	StrategyMerge      Strategy = "merge"
)

// DefaultStrategy is used when a sync request does not name one. Remote is
// treated as the authoritative store for an administered rule set.
const DefaultStrategy = StrategyRemoteWins

func (s Strategy) Valid() bool {
	switch s {
	case StrategyLocalWins, StrategyRemoteWins, StrategyNewestWins, StrategyMerge:
		return true
	}
	return false
}

// Resolution names the outcome of one conflict decision.
type Resolution string

const (
	ResolutionLocalWins     Resolution = "local_wins"
	ResolutionRemoteWins    Resolution = "remote_wins"
	ResolutionLocalNewer    Resolution = "local_newer"
	ResolutionRemoteNewer   Resolution = "remote_newer"
	ResolutionMerged        Resolution = "merged"
	ResolutionMergeFallback Resolution = "merge_failed_fallback"
	ResolutionIdentical     Resolution = "identical"
	ResolutionUnresolved    Resolution = "unresolved"
)

// Winner says which side's content survives a resolution.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerMerged Winner = "merged"
)

// Verdict is the resolver's full answer for one local/remote pair.
type Verdict struct {
	Winner     Winner
	Resolution Resolution
	// Merged is set only when Winner is WinnerMerged.
	Merged *CustomizationRule
	// Identical reports that the two sides carried equivalent content, so
	// the engine may skip the network write. The conflict is still recorded.
	Identical bool
}

// FieldDifference describes one property diverging between local and remote.
type FieldDifference struct {
	Property string `json:"property"`
	Local    any    `json:"local"`
	Remote   any    `json:"remote"`
}
