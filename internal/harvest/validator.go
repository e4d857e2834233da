package harvest

import "go.uber.org/zap"

// Validator accepts or rejects a page's record count. A rejection is not a
// fatal error; the scheduler treats it as a retry trigger distinct from
// network failures.
type Validator struct {
	minItems int
	logger   *zap.Logger
}

// NewValidator builds a Validator. minItems is the threshold an ordinary
// page must reach; the final page only needs at least one record since it
// may legitimately be partial.
func NewValidator(minItems int, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{minItems: minItems, logger: logger}
}

// Validate reports whether the page yielded a plausible number of records.
func (v *Validator) Validate(items []Record, pageNum int, isLastPage bool) bool {
	count := len(items)

	if isLastPage {
		if count == 0 {
			v.logger.Warn("last page has no items", zap.Int("page", pageNum))
			return false
		}
		return true
	}

	if count < v.minItems {
		v.logger.Warn("page below item threshold",
			zap.Int("page", pageNum),
			zap.Int("items", count),
			zap.Int("min_items", v.minItems),
		)
		return false
	}
	return true
}

// MinItems returns the configured ordinary-page threshold.
func (v *Validator) MinItems() int { return v.minItems }
