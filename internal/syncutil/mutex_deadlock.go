//go:build deadlock

// Package syncutil holds the lock types shared by the queues, stores and
// transport adapters. This variant is compiled with -tags=deadlock and
// reports lock-order inversions and long waits.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex is a deadlock-detecting mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock-detecting reader/writer mutex.
type RWMutex struct {
	deadlock.RWMutex
}
