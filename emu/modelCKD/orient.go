/*
 * S370 - CKD track orientation.
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
	"errors"
	"fmt"

	"github.com/rcornwell/S370dasd/emu/geometry"
	"github.com/rcornwell/S370dasd/util/ckdimage"
	debug "github.com/rcornwell/S370dasd/util/debug"
)

// Position of head relative to track structures.
type orient uint8

const (
	orientNone  orient = iota // Not oriented
	orientIndex               // Past home address
	orientCount               // Past count field
	orientKey                 // Past key field
	orientData                // Past data field
	orientEOT                 // End of track seen
)

var orientNames = [...]string{"none", "index", "count", "key", "data", "eot"}

func (o orient) String() string {
	if int(o) < len(orientNames) {
		return orientNames[o]
	}
	return "invalid"
}

// How a command scans for count fields.
type scan struct {
	r0 bool // Record zero may be returned
	mt bool // Multi-track, continue on next head
}

// End of track, handled by callers, never returned from a CCW.
var errEOT = errors.New("end of track")

// Overflow bit in count cylinder.
const overflowBit = 0x8000

// Relative track number.
func (device *ModelCKDctx) track(cyl, head int) int {
	return cyl*device.heads + head
}

// Make sure bytes lie within the track buffer.
func (device *ModelCKDctx) checkRange(off, n int) error {
	if off < 0 || n < 0 || off+n > len(device.buf) {
		return equipCheck(fmt.Errorf("track %d offset %d length %d past end of buffer", device.curTrk, off, n))
	}
	return nil
}

// Load track under current cylinder and head.
func (device *ModelCKDctx) loadTrack() error {
	return device.ensureCurrent(device.track(device.cyl, device.head))
}

// Move to cylinder and head, orientation at index.
func (device *ModelCKDctx) seekTrack(cyl, head int) error {
	if cyl < 0 || cyl >= device.cyls || head < 0 || head >= device.heads {
		return cmdReject(msgInvalidParm)
	}
	if err := device.ensureCurrent(device.track(cyl, head)); err != nil {
		return err
	}
	device.cyl = cyl
	device.head = head
	device.orient = orientIndex
	device.index = false
	device.pos = 0
	device.ovfl = false
	debug.DebugDevf(device.addr, device.debugMsk, debugDetail, "seek cyl %d head %d", cyl, head)
	return nil
}

// Advance to next track. Multi-track operations stop at end of cylinder.
func (device *ModelCKDctx) nextTrack(mt bool) error {
	cyl, head := device.cyl, device.head+1
	if head >= device.heads {
		if mt {
			return endOfCylinder()
		}
		cyl++
		head = 0
		if cyl >= device.cyls {
			return trackFormat()
		}
	}
	if device.sess.dx && !device.inExtent(cyl, head) {
		return fileProtect()
	}
	return device.seekTrack(cyl, head)
}

// Read next count field on track.
func (device *ModelCKDctx) readCount(r0 bool) error {
	if err := device.loadTrack(); err != nil {
		return err
	}
	var pos int
	switch device.orient {
	case orientNone, orientIndex:
		pos = geometry.HASize
	case orientCount, orientKey, orientData:
		pos = device.pos + device.count.Size()
	case orientEOT:
		return errEOT
	}
	for {
		if err := device.checkRange(pos, geometry.CountSize); err != nil {
			return err
		}
		if ckdimage.IsEOT(device.buf[pos:]) {
			device.orient = orientEOT
			device.pos = pos
			return errEOT
		}
		c := ckdimage.GetCount(device.buf[pos:])
		if err := device.checkRange(pos, c.Size()); err != nil {
			return err
		}
		if c.Rec == 0 && !r0 {
			pos += c.Size()
			continue
		}
		device.pos = pos
		device.count = c
		device.orient = orientCount
		device.ovfl = (c.Cyl&overflowBit) != 0 && device.cyls < 32768
		debug.DebugDevf(device.addr, device.debugMsk, debugDetail, "count %04x %04x %02x %02x %04x",
			c.Cyl, c.Head, c.Rec, c.KeyLen, c.DataLen)
		return nil
	}
}

// Find next count field, end of track continues on next track for
// multi-track commands, otherwise passes index once before no record found.
func (device *ModelCKDctx) nextCount(sc scan) error {
	for {
		err := device.readCount(sc.r0)
		if !errors.Is(err, errEOT) {
			return err
		}
		if sc.mt {
			if err = device.nextTrack(true); err != nil {
				return err
			}
			continue
		}
		if device.index {
			return noRecord()
		}
		device.index = true
		device.orient = orientIndex
	}
}

// Key of current record, reads count first if not oriented to count.
func (device *ModelCKDctx) readKey(sc scan) ([]byte, error) {
	if device.orient != orientCount {
		if err := device.nextCount(sc); err != nil {
			return nil, err
		}
	}
	off := device.pos + geometry.CountSize
	device.orient = orientKey
	return device.buf[off : off+int(device.count.KeyLen)], nil
}

// Data of current record segment.
func (device *ModelCKDctx) readData(sc scan) ([]byte, error) {
	if device.orient != orientCount && device.orient != orientKey {
		if err := device.nextCount(sc); err != nil {
			return nil, err
		}
	}
	off := device.pos + geometry.CountSize + int(device.count.KeyLen)
	device.orient = orientData
	return device.buf[off : off+int(device.count.DataLen)], nil
}

// Data of current record including overflow segments on following tracks.
func (device *ModelCKDctx) readDataAll(sc scan) ([]byte, error) {
	data, err := device.readData(sc)
	if err != nil || !device.ovfl {
		return data, err
	}
	out := append([]byte(nil), data...)
	for device.ovfl {
		if err = device.overflowSegment(); err != nil {
			return nil, err
		}
		data, err = device.readData(scan{})
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// Move to continuation of overflow record on next track.
func (device *ModelCKDctx) overflowSegment() error {
	if err := device.nextTrack(false); err != nil {
		return err
	}
	err := device.readCount(false)
	if errors.Is(err, errEOT) {
		return trackFormat()
	}
	debug.DebugDevf(device.addr, device.debugMsk, debugDetail, "overflow to cyl %d head %d", device.cyl, device.head)
	return err
}

// Count field bytes of current record.
func (device *ModelCKDctx) countBytes() []byte {
	return device.buf[device.pos : device.pos+geometry.CountSize]
}

// CCHHR of current record with overflow flag removed.
func (device *ModelCKDctx) recordID() [5]byte {
	var id [5]byte
	copy(id[:], device.countBytes())
	if device.cyls < 32768 {
		id[0] &= 0x7f
	}
	return id
}

// Offset where a new record following current position is written.
func (device *ModelCKDctx) appendPos() int {
	switch device.orient {
	case orientCount, orientKey, orientData:
		return device.pos + device.count.Size()
	case orientEOT:
		return device.pos
	}
	if ckdimage.IsEOT(device.buf[geometry.HASize:]) {
		return geometry.HASize
	}
	r0 := ckdimage.GetCount(device.buf[geometry.HASize:])
	if r0.Rec != 0 {
		return geometry.HASize
	}
	return geometry.HASize + r0.Size()
}

// Copy bytes into track and mark modified.
func (device *ModelCKDctx) writeBytes(off int, data []byte) error {
	if err := device.checkRange(off, len(data)); err != nil {
		return err
	}
	copy(device.buf[off:], data)
	device.markDirty(off, off+len(data))
	return nil
}

// Zero bytes in track and mark modified.
func (device *ModelCKDctx) fillBytes(off, n int) error {
	if n <= 0 {
		return nil
	}
	if err := device.checkRange(off, n); err != nil {
		return err
	}
	clear(device.buf[off : off+n])
	device.markDirty(off, off+n)
	return nil
}

// Write into a record area of length size, padding with zeros.
func (device *ModelCKDctx) writeArea(off, size int, data []byte) (int, error) {
	n := min(len(data), size)
	if err := device.writeBytes(off, data[:n]); err != nil {
		return 0, err
	}
	return n, device.fillBytes(off+n, size-n)
}

// Update data of current record, following overflow segments.
// Returns bytes used and total record length.
func (device *ModelCKDctx) writeData(data []byte, sc scan) (int, int, error) {
	if device.orient != orientCount && device.orient != orientKey {
		if err := device.nextCount(sc); err != nil {
			return 0, 0, err
		}
	}
	used, total := 0, 0
	for {
		off := device.pos + geometry.CountSize + int(device.count.KeyLen)
		size := int(device.count.DataLen)
		n, err := device.writeArea(off, size, data[used:])
		if err != nil {
			return used, total, err
		}
		used += n
		total += size
		device.orient = orientData
		if !device.ovfl {
			return used, total, nil
		}
		if err = device.overflowSegment(); err != nil {
			return used, total, err
		}
	}
}

// Update key and data of current record.
func (device *ModelCKDctx) writeKeyData(data []byte, sc scan) (int, int, error) {
	if device.orient != orientCount {
		if err := device.nextCount(sc); err != nil {
			return 0, 0, err
		}
	}
	kl := int(device.count.KeyLen)
	n, err := device.writeArea(device.pos+geometry.CountSize, kl, data)
	if err != nil {
		return 0, 0, err
	}
	device.orient = orientKey
	used, total, err := device.writeData(data[n:], sc)
	return used + n, total + kl, err
}

// Write new record after current position and erase rest of track.
func (device *ModelCKDctx) writeRecord(pos int, c ckdimage.Count, key, data []byte) error {
	end := pos + c.Size()
	if end+geometry.CountSize > len(device.buf) {
		return trackFormat()
	}
	ckdimage.AppendRecord(device.buf, pos, c, key, data)
	device.markDirty(pos, end+geometry.CountSize)
	device.pos = pos
	device.count = c
	device.orient = orientData
	device.ovfl = (c.Cyl&overflowBit) != 0 && device.cyls < 32768
	debug.DebugDevf(device.addr, device.debugMsk, debugDetail, "write record %d at %d length %d", c.Rec, pos, c.Size())
	return nil
}

// Write end of track marker at pos.
func (device *ModelCKDctx) eraseFrom(pos int) error {
	if err := device.writeBytes(pos, ckdimage.EOT[:]); err != nil {
		return err
	}
	device.pos = pos
	device.orient = orientEOT
	return nil
}
