// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import "sort"

// MaxSessionsPerEnvironment bounds how many session records are kept per
// environment. Connected sessions are never evicted.
const MaxSessionsPerEnvironment = 20

// EvictExcessSessions removes the oldest disconnected sessions of an
// environment until the bound is met, deleting their buffers alongside.
// Returns the evicted session ids.
func (d *Dir) EvictExcessSessions(environmentID string) []string {
	sessions := d.Sessions.Filter(func(s Session) bool {
		return s.EnvironmentID == environmentID
	})
	excess := len(sessions) - MaxSessionsPerEnvironment
	if excess <= 0 {
		return nil
	}

	var disconnected []Session
	for _, s := range sessions {
		if s.Status == SessionDisconnected {
			disconnected = append(disconnected, s)
		}
	}
	sort.Slice(disconnected, func(i, j int) bool {
		return disconnected[i].CreatedAt.Before(disconnected[j].CreatedAt)
	})

	if excess > len(disconnected) {
		excess = len(disconnected)
	}

	var evicted []string
	for _, s := range disconnected[:excess] {
		if err := d.Sessions.Delete(s.ID); err != nil {
			continue
		}
		d.Buffers.Delete(s.ID)
		evicted = append(evicted, s.ID)
	}
	return evicted
}
