// Package credstore is the durable per-user, per-platform credential store.
// It wraps the database row helpers with typed records and enforces that
// platform identifiers come from the registry's known set.
package credstore

import (
	"context"
	"database/sql"
	"fmt"

	dbpkg "github.com/onnwee/crossypost/db"
	"github.com/onnwee/crossypost/platform"
)

// Set maps platform identifiers to the stored credential record for one user.
type Set map[platform.ID]platform.Record

// Connected returns the identifiers present in the set, in registry display order.
func (s Set) Connected(reg *platform.Registry) []platform.ID {
	var out []platform.ID
	for _, d := range reg.All() {
		if _, ok := s[d.ID]; ok {
			out = append(out, d.ID)
		}
	}
	return out
}

// Store persists credential records in Postgres. Every mutation is fully
// written before the call returns; there is no write buffering. Concurrent
// writers for different users are isolated by row-level atomicity; concurrent
// writers for the same user are last-write-wins (single-user chat sessions are
// serialized by the conversation layer, so this does not arise in practice).
type Store struct {
	db  *sql.DB
	reg *platform.Registry
}

func New(db *sql.DB, reg *platform.Registry) *Store {
	return &Store{db: db, reg: reg}
}

// Get returns the user's full credential set. An absent user yields an empty
// set, never an error.
func (s *Store) Get(ctx context.Context, userID int64) (Set, error) {
	rows, err := dbpkg.GetCredentials(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	set := make(Set, len(rows))
	for id, payload := range rows {
		pid := platform.ID(id)
		if _, err := s.reg.Lookup(pid); err != nil {
			// Row for a platform this build no longer knows; skip rather than fail.
			continue
		}
		rec, err := platform.DecodeRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("platform %s: %w", id, err)
		}
		set[pid] = rec
	}
	return set, nil
}

// Put upserts the record for one (user, platform) pair. The platform must be
// a registered identifier.
func (s *Store) Put(ctx context.Context, userID int64, id platform.ID, rec platform.Record) error {
	if _, err := s.reg.Lookup(id); err != nil {
		return err
	}
	payload, err := platform.EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := dbpkg.UpsertCredential(ctx, s.db, userID, string(id), payload); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// Remove deletes the record for one (user, platform) pair. Removing an absent
// record is a no-op.
func (s *Store) Remove(ctx context.Context, userID int64, id platform.ID) error {
	if _, err := s.reg.Lookup(id); err != nil {
		return err
	}
	if err := dbpkg.DeleteCredential(ctx, s.db, userID, string(id)); err != nil {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}
