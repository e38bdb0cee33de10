package collector

import "consensus-observer/internal/config"

// SavePolicy decides which heights are persisted. The same policy value is
// shared by the vote aggregator, the block tracker and the poller.
type SavePolicy struct {
	Target  int64 // 0 means no target
	SaveAll bool
	NoSave  bool
	// heights after the target that are still saved
	Window map[int64]struct{}
}

// NewSavePolicy builds the window target..target+postTarget when both are set.
func NewSavePolicy(target int64, postTarget int, saveAll, noSave bool) SavePolicy {
	p := SavePolicy{Target: target, SaveAll: saveAll, NoSave: noSave}
	if target > 0 && postTarget > 0 {
		p.Window = make(map[int64]struct{}, postTarget+1)
		for i := 0; i <= postTarget; i++ {
			p.Window[target+int64(i)] = struct{}{}
		}
	}
	return p
}

// PolicyFromConfig builds the policy of cfg. Dashboard mode never saves.
func PolicyFromConfig(cfg config.Config) SavePolicy {
	return NewSavePolicy(cfg.TargetHeight, cfg.PostTargetBlocks, cfg.SaveAll, cfg.NoSave || cfg.Dashboard)
}

// ShouldSave reports whether observations at height are persisted.
func (p SavePolicy) ShouldSave(height int64) bool {
	if p.NoSave {
		return false
	}
	if p.SaveAll {
		return true
	}
	if p.Target > 0 && height == p.Target {
		return true
	}
	_, ok := p.Window[height]
	return ok
}
