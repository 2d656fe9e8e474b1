package application

import (
	"fmt"
	"time"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

// BlockPolicy traduz severidade em ação do middleware:
//   - severidade >= BlockThreshold: bloqueia o IP imediatamente
//   - LogThreshold <= severidade < BlockThreshold: apenas loga e deixa passar
//   - abaixo de LogThreshold: ignora
type BlockPolicy struct {
	BlockThreshold int
	LogThreshold   int

	// Durations mapeia severidade exata para duração do bloqueio;
	// severidades sem entrada usam DefaultDuration.
	Durations       map[int]time.Duration
	DefaultDuration time.Duration
}

// DefaultBlockPolicy devolve a política de fábrica: bloqueio a partir de 8,
// log a partir de 5, durações crescendo com a severidade.
func DefaultBlockPolicy() BlockPolicy {
	return BlockPolicy{
		BlockThreshold: 8,
		LogThreshold:   5,
		Durations: map[int]time.Duration{
			8:  30 * time.Minute,
			9:  2 * time.Hour,
			10: 24 * time.Hour,
		},
		DefaultDuration: 30 * time.Minute,
	}
}

func (p BlockPolicy) Validate() error {
	if p.BlockThreshold <= 0 || p.LogThreshold <= 0 || p.LogThreshold > p.BlockThreshold {
		return fmt.Errorf("block policy thresholds out of order: %w", domain.ErrInvalidConfig)
	}
	if p.DefaultDuration <= 0 {
		return fmt.Errorf("block policy default duration must be > 0: %w", domain.ErrInvalidConfig)
	}
	for sev, d := range p.Durations {
		if d <= 0 {
			return fmt.Errorf("block duration for severity %d must be > 0: %w", sev, domain.ErrInvalidConfig)
		}
	}
	return nil
}

func (p BlockPolicy) ShouldBlock(severity int) bool { return severity >= p.BlockThreshold }

func (p BlockPolicy) ShouldLog(severity int) bool {
	return severity >= p.LogThreshold && severity < p.BlockThreshold
}

// DurationFor devolve a duração do bloqueio para a severidade dada.
func (p BlockPolicy) DurationFor(severity int) time.Duration {
	if d, ok := p.Durations[severity]; ok {
		return d
	}
	return p.DefaultDuration
}
