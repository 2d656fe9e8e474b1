package domain

import (
	"context"
	"time"
)

// IPBlockRecord descreve um bloqueio temporário de IP.
//
// Um registro com ExpiresAt <= now é tratado como ausente (expiração
// preguiçosa): não há varredura em background.
type IPBlockRecord struct {
	IP        string
	BlockedAt time.Time
	ExpiresAt time.Time
	Reason    string
	Duration  time.Duration
}

// Expired informa se o bloqueio já venceu no instante dado.
func (r IPBlockRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// BlockRegistry é a deny-list de IPs com TTL.
//
// Lookup devolve nil quando o IP não está bloqueado (inclusive quando o
// registro existe porém já expirou; a implementação deve removê-lo nesse caso).
type BlockRegistry interface {
	Block(ctx context.Context, ip string, duration time.Duration, reason string) error
	Lookup(ctx context.Context, ip string) (*IPBlockRecord, error)
}

// IsBlocked é o atalho booleano sobre Lookup.
func IsBlocked(ctx context.Context, reg BlockRegistry, ip string) (bool, error) {
	rec, err := reg.Lookup(ctx, ip)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}
