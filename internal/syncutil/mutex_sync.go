//go:build !deadlock

// Package syncutil holds the lock types shared by the queues, stores and
// transport adapters. Release builds get plain sync locks; building with
// -tags=deadlock swaps in github.com/sasha-s/go-deadlock so a receive
// goroutine stuck behind a tick-side lock shows up with a stack dump.
package syncutil

import "sync"

// Mutex is a sync.Mutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedded to expose Lock/Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedded to expose the RWMutex method set
type RWMutex struct {
	sync.RWMutex
}
