package services

import (
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// AccessPolicy filters formatted items by caller scope.
type AccessPolicy struct{}

// NewAccessPolicy creates an access policy.
func NewAccessPolicy() *AccessPolicy {
	return &AccessPolicy{}
}

// Filter keeps the items readable under scope and reports how many were
// dropped. Only the count is logged, never the hidden content.
func (p *AccessPolicy) Filter(items []domain.Item, scope domain.Scope) ([]domain.Item, int) {
	kept := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if scope.Allows(string(item.Visibility)) {
			kept = append(kept, item)
		}
	}
	dropped := len(items) - len(kept)
	if dropped > 0 {
		logger.Debug("scope %s filtered out %d items", domain.ParseScope(string(scope)), dropped)
	}
	return kept, dropped
}
