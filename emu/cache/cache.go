/*
 * S370 - Shared track cache.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package cache holds track buffers shared by all DASD devices.
//
// The whole slot table is protected by one lock. Callers take the lock,
// look up a key and either use the hit, fill the free slot they were given,
// or wait for another device to release a slot and then repeat the lookup.
package cache

import (
	"errors"
	"strconv"
	"sync"

	config "github.com/rcornwell/S370dasd/config/configparser"
)

// Result of a lookup.
type Result int

const (
	Hit  Result = iota // Key found in slot
	Miss               // Key not found, slot is free to allocate
	Wait               // Key not found, no free slot
)

const DefaultSlots = 64

type slot struct {
	key    uint64 // Device and track
	valid  bool   // Slot holds data
	active bool   // Slot in use by a device
	stale  bool   // Drop contents on release
	age    uint64 // Last reference
	buf    []byte // Track data
}

// Counters returned by Stats.
type Stats struct {
	Slots  int    `json:"slots"`
	Active int    `json:"active"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Waits  uint64 `json:"waits"`
}

type Cache struct {
	mu     sync.Mutex
	cond   *sync.Cond
	slots  []slot
	age    uint64
	hits   uint64
	misses uint64
	waits  uint64
}

var (
	defaultCache *Cache
	defaultOnce  sync.Once
	defaultSlots = DefaultSlots
)

// Create a cache with n slots.
func New(n int) *Cache {
	if n < 1 {
		n = 1
	}
	c := &Cache{slots: make([]slot, n)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Set number of slots of the default cache, only before first use.
func SetDefaultSlots(n int) error {
	if n < 1 {
		return errors.New("cache needs at least one slot: " + strconv.Itoa(n))
	}
	if defaultCache != nil {
		return errors.New("cache already in use")
	}
	defaultSlots = n
	return nil
}

// register cache size option on initialize.
func init() {
	config.RegisterOption("DASDCACHE", setSlots)
}

// Set cache size from configuration.
func setSlots(_ uint16, value string, _ []config.Option) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return errors.New("cache slots must be a number: " + value)
	}
	return SetDefaultSlots(n)
}

// Return the process wide cache.
func Default() *Cache {
	defaultOnce.Do(func() {
		defaultCache = New(defaultSlots)
	})
	return defaultCache
}

// Build key for device and track.
func Key(devNum uint16, track int) uint64 {
	return (uint64(devNum) << 32) | uint64(uint32(track))
}

// Device number of key.
func KeyDevice(key uint64) uint16 {
	return uint16(key >> 32)
}

// Track number of key.
func KeyTrack(key uint64) int {
	return int(uint32(key))
}

func (c *Cache) Lock() {
	c.mu.Lock()
}

func (c *Cache) Unlock() {
	c.mu.Unlock()
}

// Find a key. Must be called with lock held.
func (c *Cache) Lookup(key uint64) (int, Result) {
	free := -1
	for i := range c.slots {
		s := &c.slots[i]
		if s.valid && s.key == key {
			c.hits++
			return i, Hit
		}
		if s.active {
			continue
		}
		// Prefer empty slots, then least recently used.
		switch {
		case free < 0:
			free = i
		case !c.slots[free].valid:
		case !s.valid || s.age < c.slots[free].age:
			free = i
		}
	}
	if free < 0 {
		c.waits++
		return -1, Wait
	}
	c.misses++
	return free, Miss
}

// Assign slot to key with buffer of size bytes. Lock held.
func (c *Cache) Allocate(i int, key uint64, size int) {
	s := &c.slots[i]
	s.key = key
	s.valid = true
	s.stale = false
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
}

// Mark slot in use. Lock held.
func (c *Cache) SetActive(i int) {
	c.age++
	c.slots[i].active = true
	c.slots[i].age = c.age
}

// Return buffer for slot. Only valid while the slot is active.
func (c *Cache) Buffer(i int) []byte {
	return c.slots[i].buf
}

// Release an active slot and wake any waiter. Lock held.
func (c *Cache) Release(i int) {
	s := &c.slots[i]
	if s.stale {
		s.valid = false
		s.stale = false
	}
	s.active = false
	c.cond.Broadcast()
}

// Drop contents of slot and release it. Lock held.
func (c *Cache) Invalidate(i int) {
	c.slots[i].valid = false
	c.Release(i)
}

// Wait for a slot to be released. Lock held, returns with lock held.
func (c *Cache) Wait() {
	c.cond.Wait()
}

// Drop every slot whose key matches, active slots are dropped when
// released. Lock held.
func (c *Cache) Purge(match func(key uint64) bool) int {
	n := 0
	for i := range c.slots {
		s := &c.slots[i]
		if !s.valid || !match(s.key) {
			continue
		}
		if s.active {
			s.stale = true
		} else {
			s.valid = false
		}
		n++
	}
	return n
}

// Return current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{Slots: len(c.slots), Hits: c.hits, Misses: c.misses, Waits: c.waits}
	for i := range c.slots {
		if c.slots[i].active {
			st.Active++
		}
	}
	return st
}
