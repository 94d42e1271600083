/*
 * S370 - CKD device state save and restore.
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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rcornwell/S370dasd/emu/geometry"
	"github.com/rcornwell/S370dasd/util/ckdimage"
)

// State record tags.
const (
	tagOrient   = 1 + iota // Orientation
	tagPosition            // Cylinder and head
	tagRecord              // Count field of current record
	tagIndex               // Index passed
	tagFlags               // Sequencing flags
	tagLatches             // Seek, IPL, file mask and extent latches
	tagMask                // File mask and global attributes
	tagExtent              // Block size and extent tracks
	tagLocate              // Locate record domain
	tagTrackSet            // Remaining read track set tracks
	tagSubsys              // Staged subsystem data
	tagSense               // Sense bytes
	tagPathGroup           // Path group state and id
	tagReserved            // Device reserved
)

const (
	latchSeek = 1 << iota
	latchIPL
	latchSFM
	latchDX
	latchFirst
)

var errState = errors.New("invalid device state")

func appendTLV(out []byte, tag uint16, data []byte) []byte {
	out = binary.BigEndian.AppendUint16(out, tag)
	out = binary.BigEndian.AppendUint16(out, uint16(len(data)))
	return append(out, data...)
}

func appendBool(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// Save device state, modified track data is written first.
func (device *ModelCKDctx) Suspend() ([]byte, error) {
	device.mu.Lock()
	defer device.mu.Unlock()
	if err := device.flushCurrent(); err != nil {
		return nil, err
	}
	s := &device.sess
	var out []byte
	out = appendTLV(out, tagOrient, []byte{uint8(device.orient)})
	pos := binary.BigEndian.AppendUint16(nil, uint16(device.cyl))
	pos = binary.BigEndian.AppendUint16(pos, uint16(device.head))
	out = appendTLV(out, tagPosition, pos)
	if device.orient >= orientCount && device.orient != orientEOT {
		rec := make([]byte, geometry.CountSize)
		ckdimage.PutCount(rec, device.count)
		out = appendTLV(out, tagRecord, rec)
	}
	out = appendTLV(out, tagIndex, appendBool(device.index))
	out = appendTLV(out, tagFlags, []byte{s.flags})

	latches := uint8(0)
	for i, b := range []bool{s.seeked, s.ipl, s.sfm, s.dx, s.lrFirst} {
		if b {
			latches |= 1 << i
		}
	}
	out = appendTLV(out, tagLatches, []byte{latches})
	out = appendTLV(out, tagMask, []byte{s.mask, s.gattr})
	if s.dx {
		ext := binary.BigEndian.AppendUint32(nil, uint32(s.blkSize))
		ext = binary.BigEndian.AppendUint32(ext, uint32(s.begTrk))
		ext = binary.BigEndian.AppendUint32(ext, uint32(s.endTrk))
		out = appendTLV(out, tagExtent, ext)
	}
	if s.lrCount > 0 {
		lr := []byte{s.lrOp, s.lrAux}
		lr = binary.BigEndian.AppendUint16(lr, uint16(s.lrCount))
		lr = binary.BigEndian.AppendUint16(lr, uint16(s.lrTLF))
		out = appendTLV(out, tagLocate, lr)
	}
	if len(s.trkSet) > 0 {
		var set []byte
		for _, trk := range s.trkSet {
			set = binary.BigEndian.AppendUint32(set, uint32(trk))
		}
		out = appendTLV(out, tagTrackSet, set)
	}
	if len(s.ssd) > 0 {
		out = appendTLV(out, tagSubsys, s.ssd)
	}
	out = appendTLV(out, tagSense, device.sense[:])
	out = appendTLV(out, tagPathGroup, append([]byte{device.pgState}, device.pgid[:]...))
	out = appendTLV(out, tagReserved, appendBool(device.reserved.Load()))
	return out, nil
}

// Saved state decoded before it is applied.
type savedState struct {
	orient  orient
	cyl     int
	head    int
	record  *ckdimage.Count
	index   bool
	sess    session
	sense   []byte
	pgState uint8
	pgid    []byte
	reserve bool
}

func parseState(data []byte) (*savedState, error) {
	st := &savedState{}
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, errState
		}
		tag := binary.BigEndian.Uint16(data)
		n := int(binary.BigEndian.Uint16(data[2:]))
		if len(data) < 4+n {
			return nil, fmt.Errorf("%w: tag %d truncated", errState, tag)
		}
		v := data[4 : 4+n]
		data = data[4+n:]
		if err := st.apply(tag, v); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Required payload length per tag, -1 for variable.
var tagLength = map[uint16]int{
	tagOrient:    1,
	tagPosition:  4,
	tagRecord:    geometry.CountSize,
	tagIndex:     1,
	tagFlags:     1,
	tagLatches:   1,
	tagMask:      2,
	tagExtent:    12,
	tagLocate:    6,
	tagTrackSet:  -1,
	tagSubsys:    -1,
	tagSense:     32,
	tagPathGroup: 12,
	tagReserved:  1,
}

func (st *savedState) apply(tag uint16, v []byte) error {
	want, ok := tagLength[tag]
	if !ok {
		return fmt.Errorf("%w: unknown tag %d", errState, tag)
	}
	if want >= 0 && len(v) != want {
		return fmt.Errorf("%w: tag %d length %d", errState, tag, len(v))
	}
	s := &st.sess
	switch tag {
	case tagOrient:
		if v[0] > uint8(orientEOT) {
			return fmt.Errorf("%w: orientation %d", errState, v[0])
		}
		st.orient = orient(v[0])
	case tagPosition:
		st.cyl = int(binary.BigEndian.Uint16(v))
		st.head = int(binary.BigEndian.Uint16(v[2:]))
	case tagRecord:
		c := ckdimage.GetCount(v)
		st.record = &c
	case tagIndex:
		st.index = v[0] != 0
	case tagFlags:
		s.flags = v[0]
	case tagLatches:
		s.seeked = v[0]&latchSeek != 0
		s.ipl = v[0]&latchIPL != 0
		s.sfm = v[0]&latchSFM != 0
		s.dx = v[0]&latchDX != 0
		s.lrFirst = v[0]&latchFirst != 0
	case tagMask:
		s.mask = v[0]
		s.gattr = v[1]
	case tagExtent:
		s.blkSize = int(binary.BigEndian.Uint32(v))
		s.begTrk = int(binary.BigEndian.Uint32(v[4:]))
		s.endTrk = int(binary.BigEndian.Uint32(v[8:]))
	case tagLocate:
		s.lrOp = v[0]
		s.lrAux = v[1]
		s.lrCount = int(binary.BigEndian.Uint16(v[2:]))
		s.lrTLF = int(binary.BigEndian.Uint16(v[4:]))
	case tagTrackSet:
		if len(v)%4 != 0 {
			return fmt.Errorf("%w: track set length %d", errState, len(v))
		}
		for i := 0; i < len(v); i += 4 {
			s.trkSet = append(s.trkSet, int(binary.BigEndian.Uint32(v[i:])))
		}
	case tagSubsys:
		s.ssd = append([]byte(nil), v...)
	case tagSense:
		st.sense = v
	case tagPathGroup:
		st.pgState = v[0]
		st.pgid = v[1:]
	case tagReserved:
		st.reserve = v[0] != 0
	}
	return nil
}

// Restore device state saved by Suspend.
func (device *ModelCKDctx) Resume(data []byte) error {
	st, err := parseState(data)
	if err != nil {
		return err
	}
	device.mu.Lock()
	defer device.mu.Unlock()

	if st.orient != orientNone {
		if err = device.restorePosition(st); err != nil {
			return err
		}
	} else {
		device.orient = orientNone
		device.cyl = st.cyl
		device.head = st.head
	}
	device.index = st.index
	device.sess = st.sess
	if st.sense != nil {
		copy(device.sense[:], st.sense)
	}
	device.pgState = st.pgState
	if st.pgid != nil {
		copy(device.pgid[:], st.pgid)
	}
	device.reserved.Store(st.reserve)
	return nil
}

// Replay positioning to get back to saved orientation.
func (device *ModelCKDctx) restorePosition(st *savedState) error {
	if err := device.seekTrack(st.cyl, st.head); err != nil {
		return fmt.Errorf("%w: %w", errState, err)
	}
	switch st.orient {
	case orientIndex:
		return nil
	case orientEOT:
		for {
			err := device.readCount(true)
			if errors.Is(err, errEOT) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	if st.record == nil {
		return fmt.Errorf("%w: no record for orientation %s", errState, st.orient)
	}
	for {
		err := device.readCount(true)
		if errors.Is(err, errEOT) {
			return fmt.Errorf("%w: record %d not on track", errState, st.record.Rec)
		}
		if err != nil {
			return err
		}
		if device.count == *st.record {
			break
		}
	}
	if st.orient >= orientKey {
		if _, err := device.readKey(scan{}); err != nil {
			return err
		}
	}
	if st.orient >= orientData {
		if _, err := device.readData(scan{}); err != nil {
			return err
		}
	}
	return nil
}
