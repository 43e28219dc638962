package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLeaseHeld is returned when another holder owns an unexpired lease.
var ErrLeaseHeld = errors.New("lease held by another instance")

// Lease is a named, expiring claim stored in the knowledge store. Agents
// sharing one store take a lease before running work that only one of
// them should run at a time.
type Lease struct {
	db     *Database
	name   string
	holder string
	ttl    time.Duration
	stopCh chan struct{}
	once   sync.Once
}

// AcquireLease claims name for ttl. An expired lease is taken over.
// The lease is renewed in the background until Release.
func (d *Database) AcquireLease(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("database: lease ttl must be positive")
	}
	holder := uuid.NewString()
	now := time.Now()

	res, err := d.db.ExecContext(ctx, d.q(`
		INSERT INTO leases (name, holder, expires_at, renewed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`),
		name, holder, formatTime(now.Add(ttl)), formatTime(now))
	if err != nil {
		return nil, d.wrap("acquire lease", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, d.wrap("acquire lease", err)
	}

	if rows == 0 {
		// Held; take it over only if it has expired
		res, err = d.db.ExecContext(ctx, d.q(`
			UPDATE leases SET holder = ?, expires_at = ?, renewed_at = ?
			WHERE name = ? AND expires_at < ?`),
			holder, formatTime(now.Add(ttl)), formatTime(now), name, formatTime(now))
		if err != nil {
			return nil, d.wrap("take over lease", err)
		}
		if rows, _ = res.RowsAffected(); rows == 0 {
			return nil, fmt.Errorf("database: %s: %w", name, ErrLeaseHeld)
		}
	}

	lease := &Lease{
		db:     d,
		name:   name,
		holder: holder,
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}
	go lease.renew()
	return lease, nil
}

// renew pushes the expiry forward at a third of the ttl.
func (l *Lease) renew() {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			now := time.Now()
			res, err := l.db.db.ExecContext(ctx, l.db.q(`
				UPDATE leases SET expires_at = ?, renewed_at = ?
				WHERE name = ? AND holder = ?`),
				formatTime(now.Add(l.ttl)), formatTime(now), l.name, l.holder)
			cancel()
			if err != nil {
				continue
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// Lost the lease
				return
			}
		case <-l.stopCh:
			return
		}
	}
}

// Name returns the lease name.
func (l *Lease) Name() string {
	return l.name
}

// Release stops renewal and drops the lease if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() { close(l.stopCh) })

	_, err := l.db.db.ExecContext(ctx, l.db.q(`DELETE FROM leases WHERE name = ? AND holder = ?`), l.name, l.holder)
	if err != nil {
		return l.db.wrap("release lease", err)
	}
	return nil
}
