package retention

import (
	"errors"
	"fmt"

	"snapkeep/internal/config"
)

type Mode string

const (
	ModeCount     Mode = config.RetentionCount
	ModeSize      Mode = config.RetentionSize
	ModeUnbounded Mode = config.RetentionUnbounded
)

var ErrInvalidBudget = errors.New("invalid retention budget")

// Budget is the ceiling enforced per camera. Exactly one mode is active.
type Budget struct {
	Mode          Mode
	KeepCount     int
	MaxTotalBytes int64
}

func CountBudget(keepCount int) Budget {
	return Budget{Mode: ModeCount, KeepCount: keepCount}
}

func SizeBudget(maxTotalBytes int64) Budget {
	return Budget{Mode: ModeSize, MaxTotalBytes: maxTotalBytes}
}

// Unbounded never evicts. Every admitted snapshot is kept.
func Unbounded() Budget {
	return Budget{Mode: ModeUnbounded}
}

func (b Budget) Validate() error {
	switch b.Mode {
	case ModeCount:
		if b.KeepCount <= 0 {
			return fmt.Errorf("%w: keep_count must be > 0, got %d", ErrInvalidBudget, b.KeepCount)
		}
		if b.MaxTotalBytes != 0 {
			return fmt.Errorf("%w: count budget does not take max_total_bytes", ErrInvalidBudget)
		}
	case ModeSize:
		if b.MaxTotalBytes <= 0 {
			return fmt.Errorf("%w: max_total_bytes must be > 0, got %d", ErrInvalidBudget, b.MaxTotalBytes)
		}
		if b.KeepCount != 0 {
			return fmt.Errorf("%w: size budget does not take keep_count", ErrInvalidBudget)
		}
	case ModeUnbounded:
		if b.KeepCount != 0 || b.MaxTotalBytes != 0 {
			return fmt.Errorf("%w: unbounded retention does not take a budget", ErrInvalidBudget)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidBudget, b.Mode)
	}
	return nil
}

func (b Budget) String() string {
	switch b.Mode {
	case ModeCount:
		return fmt.Sprintf("count(keep=%d)", b.KeepCount)
	case ModeSize:
		return fmt.Sprintf("size(max_bytes=%d)", b.MaxTotalBytes)
	default:
		return string(b.Mode)
	}
}

// BudgetFromConfig converts the validated [retention] section.
func BudgetFromConfig(cfg config.RetentionConfig) (Budget, error) {
	var b Budget
	switch Mode(cfg.Mode) {
	case ModeCount:
		b = CountBudget(cfg.KeepCount)
	case ModeSize:
		b = SizeBudget(cfg.MaxTotalBytes)
	case ModeUnbounded:
		b = Unbounded()
	default:
		return Budget{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidBudget, cfg.Mode)
	}
	if err := b.Validate(); err != nil {
		return Budget{}, err
	}
	return b, nil
}
