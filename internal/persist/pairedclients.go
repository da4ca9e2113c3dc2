// Package persist implements the bridge's two persisted stores: the
// paired-clients map, kept in SQLite for high-churn lookups on every
// authenticated request via internal/db, and the bridge identity /
// user-authored resource snapshot, kept in one atomically rewritten
// YAML file.
package persist

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/huebridged/bridge/internal/db"
	"github.com/huebridged/bridge/internal/huerr"
)

// PairedClient is one issued application key.
type PairedClient struct {
	AppKey    string
	Name      string
	CreatedAt time.Time
}

// PairedClients is the SQLite-backed paired-clients map: application
// key -> client name, created-at.
type PairedClients struct {
	db *db.DB
}

// OpenPairedClients opens (creating if absent) the paired-clients
// database at path.
func OpenPairedClients(path string) (*PairedClients, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	return &PairedClients{db: conn}, nil
}

func (p *PairedClients) Close() error { return p.db.Close() }

// Authenticate resolves a bearer application key to the client name it
// was issued under.
func (p *PairedClients) Authenticate(appKey string) (string, bool) {
	var name string
	err := p.db.QueryRow(`SELECT name FROM paired_clients WHERE app_key = ?`, appKey).Scan(&name)
	if err != nil {
		return "", false
	}
	return name, true
}

// Pair issues a new application key for a named client, persisting it
// before returning. The 40-char app key and 32-hex-char client key
// follow the Hue pairing response shape.
func (p *PairedClients) Pair(name string) (PairedClient, error) {
	appKey, err := randomHex(20) // 20 bytes -> 40 hex chars
	if err != nil {
		return PairedClient{}, huerr.Wrap(huerr.Internal, "failed to generate application key", err)
	}

	pc := PairedClient{AppKey: appKey, Name: name, CreatedAt: time.Now()}
	_, err = p.db.Exec(`INSERT INTO paired_clients (app_key, name, created_at) VALUES (?, ?, ?)`,
		pc.AppKey, pc.Name, pc.CreatedAt.Unix())
	if err != nil {
		return PairedClient{}, huerr.Wrap(huerr.Internal, "failed to persist paired client", err)
	}
	return pc, nil
}

// DeriveClientKey returns the 32-hex-char entertainment PSK derived for
// an application key. It is a pure function of appKey, not a
// stored value, so internal/entertainment's PSKLookup can recompute it
// for any paired key without persisting a second secret alongside it.
func DeriveClientKey(appKey string) (string, error) {
	sum := sha256.Sum256([]byte(appKey))
	return hex.EncodeToString(sum[:16]), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
