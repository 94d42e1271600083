/*
 * S370 - CKD current track management.
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

package modelckd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/rcornwell/S370dasd/emu/cache"
	"github.com/rcornwell/S370dasd/util/ckdimage"
	debug "github.com/rcornwell/S370dasd/util/debug"
)

// Make track current, loading it into the cache if needed.
func (device *ModelCKDctx) ensureCurrent(trk int) error {
	if device.image == nil {
		return intervention()
	}
	if trk == device.curTrk && device.slot >= 0 {
		return nil
	}
	if err := device.flushCurrent(); err != nil {
		return err
	}
	device.releaseSlot()

	key := cache.Key(device.addr, trk)
	c := device.cache
	c.Lock()
	for {
		i, r := c.Lookup(key)
		switch r {
		case cache.Hit:
			c.SetActive(i)
			c.Unlock()
			device.useSlot(trk, i)
			debug.DebugDevf(device.addr, device.debugMsk, debugCache, "track %d hit slot %d", trk, i)
			return nil
		case cache.Miss:
			c.Allocate(i, key, device.trkSize)
			c.SetActive(i)
			c.Unlock()
			debug.DebugDevf(device.addr, device.debugMsk, debugCache, "track %d miss slot %d", trk, i)
			return device.loadSlot(trk, i)
		case cache.Wait:
			debug.DebugDevf(device.addr, device.debugMsk, debugCache, "track %d wait for slot", trk)
			c.Wait()
		}
	}
}

// Read track from image into newly allocated slot.
func (device *ModelCKDctx) loadSlot(trk, i int) error {
	buf := device.cache.Buffer(i)
	err := device.image.ReadTrack(trk, buf)
	if err == nil {
		cyl, head := ckdimage.GetHA(buf)
		if cyl != trk/device.heads || head != trk%device.heads {
			err = fmt.Errorf("track %d home address %d/%d: %w", trk, cyl, head, ckdimage.ErrHomeAddr)
		}
	}
	if err != nil {
		device.cache.Lock()
		device.cache.Invalidate(i)
		device.cache.Unlock()
		return equipCheck(err)
	}
	device.useSlot(trk, i)
	return nil
}

func (device *ModelCKDctx) useSlot(trk, i int) {
	device.curTrk = trk
	device.slot = i
	device.buf = device.cache.Buffer(i)
	device.dirtyLo = 0
	device.dirtyHi = 0
}

// Give up current slot.
func (device *ModelCKDctx) releaseSlot() {
	if device.slot < 0 {
		return
	}
	device.cache.Lock()
	device.cache.Release(device.slot)
	device.cache.Unlock()
	device.slot = -1
	device.buf = nil
	device.curTrk = -1
}

// Record modified range of current track.
func (device *ModelCKDctx) markDirty(lo, hi int) {
	if device.dirtyHi == 0 {
		device.dirtyLo = lo
		device.dirtyHi = hi
		device.notifyPeers(device.curTrk)
		return
	}
	device.dirtyLo = min(device.dirtyLo, lo)
	device.dirtyHi = max(device.dirtyHi, hi)
}

// Write modified part of current track to image.
func (device *ModelCKDctx) flushCurrent() error {
	if device.dirtyHi == 0 || device.slot < 0 {
		return nil
	}
	lo, hi := device.dirtyLo, device.dirtyHi
	device.dirtyLo = 0
	device.dirtyHi = 0
	_, err := device.image.WriteTrack(device.curTrk, lo, device.buf[lo:hi])
	if err != nil {
		slog.Error("Track write failed", "device", fmt.Sprintf("%03x", device.addr),
			"track", device.curTrk, "error", err)
		device.cache.Lock()
		device.cache.Invalidate(device.slot)
		device.cache.Unlock()
		device.slot = -1
		device.buf = nil
		device.curTrk = -1
		return equipCheck(err)
	}
	debug.DebugDevf(device.addr, device.debugMsk, debugCache, "track %d flush %d to %d", device.curTrk, lo, hi)
	device.notifyPeers(device.curTrk)
	return nil
}

// Finish channel program, write back and release current track.
func (device *ModelCKDctx) endChain() error {
	err := device.flushCurrent()
	device.releaseSlot()
	return err
}

// Devices attached to the same image file.
var (
	peerMu sync.Mutex
	peers  = map[string][]*ModelCKDctx{}
)

func peerKey(device *ModelCKDctx) string {
	name := device.image.Name()
	if abs, err := filepath.Abs(name); err == nil {
		return abs
	}
	return name
}

func addPeer(device *ModelCKDctx) {
	peerMu.Lock()
	defer peerMu.Unlock()
	key := peerKey(device)
	peers[key] = append(peers[key], device)
}

func delPeer(device *ModelCKDctx) {
	if !device.shared || device.image == nil {
		return
	}
	peerMu.Lock()
	defer peerMu.Unlock()
	key := peerKey(device)
	list := peers[key]
	for i, p := range list {
		if p == device {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(peers, key)
	} else {
		peers[key] = list
	}
}

// Other devices sharing image.
func (device *ModelCKDctx) peerList() []*ModelCKDctx {
	if !device.shared || device.image == nil {
		return nil
	}
	peerMu.Lock()
	defer peerMu.Unlock()
	var list []*ModelCKDctx
	for _, p := range peers[peerKey(device)] {
		if p != device {
			list = append(list, p)
		}
	}
	return list
}

// Drop cached copies of track held for other devices.
func (device *ModelCKDctx) notifyPeers(trk int) {
	for _, p := range device.peerList() {
		key := cache.Key(p.addr, trk)
		device.cache.Lock()
		n := device.cache.Purge(func(k uint64) bool { return k == key })
		device.cache.Unlock()
		if n != 0 {
			debug.DebugDevf(device.addr, device.debugMsk, debugCache, "track %d purged for %03x", trk, p.addr)
		}
	}
}

// Check if another device sharing image holds a reserve.
func (device *ModelCKDctx) peerReserved() bool {
	for _, p := range device.peerList() {
		if p.reserved.Load() {
			return true
		}
	}
	return false
}
