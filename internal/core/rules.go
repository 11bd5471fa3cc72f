package core

import "batchcore/pkg/domain"

// NewDefaultRulesEngine returns an engine loaded with the standard commit
// rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(LifecycleGuardRule())
	engine.Register(EventChainRule())
	engine.Register(ReleaseIntegrityRule())
	engine.Register(AggregateConsistencyRule())
	return engine
}
