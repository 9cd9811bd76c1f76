// Copyright 2024 pvfs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides the small in-memory caches used by the pvfs
// backend.
//
// Currently provides:
// - NameCache: bounded reverse map from 8.3 mangled names to long names
//
// A cache miss is never an error. Callers fall back to scanning the
// directory, so every cache here may drop entries at any time.
package cache

import "os"

// Disabled controls whether all caching mechanisms are disabled.
// Set via PVFS_CACHE=0 environment variable.
// When true:
// - NameCache.Lookup() always misses
// - NameCache.Add() is a no-op
//
// This is useful for testing and debugging to verify logic works correctly
// without caching, and to isolate cache-related bugs.
var Disabled = os.Getenv("PVFS_CACHE") == "0"

// Invalidator is implemented by all caches that support full invalidation.
type Invalidator interface {
	// Invalidate clears all entries from the cache.
	Invalidate()
}
