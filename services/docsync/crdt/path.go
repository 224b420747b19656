// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crdt

import (
	"net/url"
	"strings"
)

// Register keys are hierarchical paths. Each segment is escaped so that user
// supplied identifiers (study ids, pdf file names) can contain '/' without
// colliding with the path structure.

func joinPath(segs ...string) string {
	escaped := make([]string, len(segs))
	for i, s := range segs {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

func splitPath(key string) []string {
	parts := strings.Split(key, "/")
	segs := make([]string, len(parts))
	for i, p := range parts {
		s, err := url.PathUnescape(p)
		if err != nil {
			// A key we wrote ourselves always unescapes; keep the raw
			// segment rather than dropping data.
			s = p
		}
		segs[i] = s
	}
	return segs
}

// childPrefix returns the key prefix under which all descendants of the
// given path live.
func childPrefix(segs ...string) string {
	return joinPath(segs...) + "/"
}

// canonicalKey reports whether key is exactly what joinPath would emit:
// every segment round-trips through url.PathEscape unchanged. Keys in
// any other spelling would merge but never match a prefix scan or a
// typed read, surviving as unreachable registers in every snapshot.
func canonicalKey(key string) bool {
	for _, p := range strings.Split(key, "/") {
		s, err := url.PathUnescape(p)
		if err != nil || url.PathEscape(s) != p {
			return false
		}
	}
	return true
}
