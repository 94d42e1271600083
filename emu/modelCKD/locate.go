/*
 * S370 - CKD locate record.
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
	"bytes"
	"encoding/binary"
	"errors"
	"math/bits"

	debug "github.com/rcornwell/S370dasd/util/debug"
)

const (
	// Locate record orientation.
	lrOrientMask  = 0xc0
	lrOrientCount = 0x00
	lrOrientHA    = 0x40
	lrOrientData  = 0x80
	lrOrientIndex = 0xc0

	// Locate record operations.
	lrOpMask     = 0x3f
	lrOrient     = 0x00 // Orient
	lrWriteData  = 0x01 // Write data
	lrFormat     = 0x03 // Format write
	lrReadData   = 0x06 // Read data
	lrWriteAny   = 0x09 // Write any
	lrReadAny    = 0x0a // Read any
	lrWriteTrack = 0x0b // Write track
	lrReadTracks = 0x0c // Read tracks
	lrReadTrkSet = 0x0e // Read track set
	lrRead       = 0x16 // Read

	// Auxiliary byte.
	lrAuxTLF     = 0x80 // Transfer length factor valid
	lrAuxReadCnt = 0x01 // Read count suffixed

	lrLength    = 16 // Locate record parameters
	lreLength   = 18 // Locate record extended fixed parameters
	lreParmLen  = 17 // Offset of extended parameter length
	lreParmData = 18 // Offset of extended parameter
)

// Orientations permitted for each locate operation.
const (
	okCount = 1 << iota
	okHA
	okData
	okIndex
)

type lrLegal struct {
	orients  int  // Permitted orientations
	extended bool // Locate record extended only
}

var lrTable = map[uint8]lrLegal{
	lrOrient:     {okCount | okHA | okData | okIndex, false},
	lrWriteData:  {okCount | okData, false},
	lrFormat:     {okCount | okHA | okIndex, false},
	lrReadData:   {okCount | okData | okIndex, false},
	lrWriteAny:   {okCount, true},
	lrReadAny:    {okCount, true},
	lrWriteTrack: {okCount | okHA | okIndex, false},
	lrReadTracks: {okCount | okHA | okIndex, false},
	lrReadTrkSet: {okCount | okHA | okIndex, true},
	lrRead:       {okCount | okHA | okData | okIndex, false},
}

// Locate record parameter block.
type locateParm struct {
	orient   uint8
	op       uint8
	aux      uint8
	count    int
	seekCyl  int
	seekHead int
	search   []byte
	tlf      int
}

func parseLocate(data []byte) locateParm {
	return locateParm{
		orient:   data[0] & lrOrientMask,
		op:       data[0] & lrOpMask,
		aux:      data[1],
		count:    int(data[3]),
		seekCyl:  int(binary.BigEndian.Uint16(data[4:])),
		seekHead: int(binary.BigEndian.Uint16(data[6:])),
		search:   data[8:13],
		tlf:      int(binary.BigEndian.Uint16(data[14:])),
	}
}

// Locate record and locate record extended. Returns bytes consumed.
func (device *ModelCKDctx) locateRecord(data []byte, extended, validate bool) (int, error) {
	need := lrLength
	if extended {
		need = lreLength
	}
	if len(data) < need {
		return 0, cmdReject(msgCountLow)
	}
	if !device.sess.dx && !device.sess.ipl {
		return 0, cmdReject(msgInvalidSeq)
	}
	lr := parseLocate(data)

	if validate {
		legal, ok := lrTable[lr.op]
		if !ok || legal.orients&(1<<(lr.orient>>6)) == 0 || (legal.extended && !extended) {
			return 0, cmdReject(msgInvalidParm)
		}
		if data[2] != 0 || lr.count == 0 {
			return 0, cmdReject(msgInvalidParm)
		}
		if lr.aux&lrAuxReadCnt != 0 && lr.count < 2 {
			return 0, cmdReject(msgInvalidParm)
		}
	}
	if lr.seekCyl >= device.cyls || lr.seekHead >= device.heads {
		return 0, cmdReject(msgInvalidParm)
	}
	if !device.inExtent(lr.seekCyl, lr.seekHead) {
		return 0, fileProtect()
	}

	used := need
	var set []int
	if extended && lr.op == lrReadTrkSet {
		plen := int(data[lreParmLen])
		if plen == 0 {
			return 0, cmdReject(msgInvalidParm)
		}
		if len(data) < lreParmData+plen {
			return 0, cmdReject(msgCountLow)
		}
		bitmap := data[lreParmData : lreParmData+plen]
		if bitmap[0]&0x80 == 0 {
			return 0, cmdReject(msgInvalidParm)
		}
		n := 0
		for _, b := range bitmap {
			n += bits.OnesCount8(b)
		}
		if validate && n != lr.count {
			return 0, cmdReject(msgInvalidParm)
		}
		base := device.track(lr.seekCyl, lr.seekHead)
		for i := range plen * 8 {
			if bitmap[i/8]&(0x80>>(i%8)) == 0 {
				continue
			}
			if base+i >= device.cyls*device.heads || !device.inExtentTrk(base+i) {
				return 0, fileProtect()
			}
			set = append(set, base+i)
		}
		used += plen
	}

	if err := device.seekTrack(lr.seekCyl, lr.seekHead); err != nil {
		return 0, err
	}
	switch lr.orient {
	case lrOrientHA:
		if !bytes.Equal(device.buf[1:5], lr.search[:4]) {
			return 0, noRecord()
		}
	case lrOrientIndex:
	default:
		if err := device.searchLocate(lr); err != nil {
			return 0, err
		}
	}

	s := &device.sess
	s.seeked = true
	s.lrOp = data[0]
	s.lrAux = lr.aux
	s.lrCount = lr.count
	s.lrTLF = lr.tlf
	s.lrFirst = true
	s.trkSet = set
	debug.DebugDevf(device.addr, device.debugMsk, debugCmd, "locate op %02x count %d cyl %d head %d",
		data[0], lr.count, lr.seekCyl, lr.seekHead)
	return used, nil
}

// Search track for record named in locate parameters.
func (device *ModelCKDctx) searchLocate(lr locateParm) error {
	anyRec := lr.op == lrReadAny || lr.op == lrWriteAny
	for {
		err := device.readCount(!anyRec)
		if errors.Is(err, errEOT) {
			return noRecord()
		}
		if err != nil {
			return err
		}
		if anyRec {
			return nil
		}
		id := device.recordID()
		if bytes.Equal(id[:], lr.search) {
			return nil
		}
	}
}

// Locate operation of open domain.
func (device *ModelCKDctx) domainOp() uint8 {
	return device.sess.lrOp & lrOpMask
}

// Domain operation reads data.
func (device *ModelCKDctx) domainRead() bool {
	switch device.domainOp() {
	case lrOrient, lrReadData, lrReadAny, lrReadTracks, lrReadTrkSet, lrRead:
		return true
	}
	return false
}

// Domain operation formats tracks.
func (device *ModelCKDctx) domainFormat() bool {
	switch device.domainOp() {
	case lrFormat, lrWriteTrack:
		return true
	}
	return false
}

// Check if command may run inside open domain.
func (device *ModelCKDctx) domainAllows(code uint8, op *opDef) bool {
	switch code {
	case cmdNOP:
		return true
	case cmdWriteData, cmdWriteUpd, cmdWriteKD, cmdWriteUpdKD:
		switch device.domainOp() {
		case lrWriteData, lrWriteAny:
			return true
		}
		return false
	case cmdWriteCKD, cmdWriteSpCKD, cmdWriteR0, cmdWriteCKDNT, cmdErase:
		return device.domainFormat()
	}
	return op.fam == famRead && code != cmdReadIPL && device.domainRead()
}

// Check if command is counted against domain.
func (device *ModelCKDctx) domainQualifies(ccw uint8, flags uint8, op *opDef) bool {
	if op.fam != famRead && op.fam != famWrite {
		return false
	}
	if ccw&^cmdMT == cmdReadCount {
		s := &device.sess
		return (s.lrAux&lrAuxReadCnt != 0 && s.lrCount == 1) ||
			flags&ccwCC == 0 || device.domainOp() == lrRead || device.domainOp() == lrReadAny
	}
	return true
}
