/*
 * S370 - CKD define extent and file mask.
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

	debug "github.com/rcornwell/S370dasd/util/debug"
)

const (
	// File mask write control.
	maskWRCTL    = 0xc0
	maskInhWHA0  = 0x00 // Inhibit write home address and record zero
	maskInhWrite = 0x40 // Inhibit all writes
	maskInhWHA   = 0x80 // Inhibit write home address
	maskAllowAll = 0xc0 // Allow all writes

	maskRESV = 0x20 // Reserved

	// File mask seek control.
	maskSKCTL  = 0x18
	maskSkAll  = 0x00 // Allow all seeks
	maskSkCyl  = 0x08 // Allow seek cylinder and seek head
	maskSkHead = 0x10 // Allow seek head only
	maskSkNone = 0x18 // Inhibit all seeks

	// File mask access authorization.
	maskAAUTH   = 0x06
	maskAAInval = 0x06

	// Global attributes.
	gattrARCH    = 0xc0 // Architecture mode
	gattrECKD    = 0xc0 // Extended CKD architecture
	gattrCKDConv = 0x20 // CKD conversion mode

	extentLength = 16 // Bytes of define extent examined
)

// Define extent. Trusted parameters from prefix are not validated,
// relaxed checks only the beginning of the extent.
func (device *ModelCKDctx) defineExtent(data []byte, validate, relaxed bool) error {
	if device.model.Legacy {
		return cmdReject(msgInvalidCmd)
	}
	if len(data) < extentLength {
		return cmdReject(msgCountLow)
	}
	mask := data[0]
	gattr := data[1]
	if validate {
		if device.sess.dx || device.sess.sfm {
			return cmdReject(msgInvalidSeq)
		}
		if mask&maskRESV != 0 || mask&maskAAUTH == maskAAInval {
			return cmdReject(msgInvalidParm)
		}
		if gattr&gattrARCH != gattrECKD {
			return cmdReject(msgInvalidParm)
		}
	}

	blkSize := int(binary.BigEndian.Uint16(data[2:]))
	if blkSize == 0 {
		blkSize = device.model.R0Len + 8
	}
	bcyl := int(binary.BigEndian.Uint16(data[8:]))
	bhead := int(binary.BigEndian.Uint16(data[10:]))
	ecyl := int(binary.BigEndian.Uint16(data[12:]))
	ehead := int(binary.BigEndian.Uint16(data[14:]))
	begTrk := device.track(bcyl, bhead)
	endTrk := device.track(ecyl, ehead)
	if validate {
		if bcyl >= device.cyls || bhead >= device.heads {
			return cmdReject(msgInvalidParm)
		}
		if !relaxed && (ecyl >= device.cyls || ehead >= device.heads || begTrk > endTrk) {
			return cmdReject(msgInvalidParm)
		}
	}
	last := device.cyls*device.heads - 1
	if endTrk > last || endTrk < begTrk {
		endTrk = last
	}

	s := &device.sess
	s.dx = true
	s.mask = mask
	s.gattr = gattr
	s.blkSize = blkSize
	s.begTrk = begTrk
	s.endTrk = endTrk
	debug.DebugDevf(device.addr, device.debugMsk, debugCmd, "extent %d to %d mask %02x attr %02x",
		begTrk, endTrk, mask, gattr)
	return nil
}

// Set file mask.
func (device *ModelCKDctx) setFileMask(data []byte) error {
	if len(data) < 1 {
		return cmdReject(msgCountLow)
	}
	if device.sess.dx || device.sess.sfm {
		return cmdReject(msgInvalidSeq)
	}
	mask := data[0]
	if mask&maskRESV != 0 || mask&maskAAUTH == maskAAInval {
		return cmdReject(msgInvalidParm)
	}
	device.sess.mask = mask
	device.sess.sfm = true
	return nil
}

// Check if track is inside current extent.
func (device *ModelCKDctx) inExtent(cyl, head int) bool {
	return device.inExtentTrk(device.track(cyl, head))
}

func (device *ModelCKDctx) inExtentTrk(trk int) bool {
	if !device.sess.dx {
		return true
	}
	return trk >= device.sess.begTrk && trk <= device.sess.endTrk
}

// Check if seek type permitted by file mask.
func (device *ModelCKDctx) seekAllowed(code uint8) bool {
	switch device.sess.mask & maskSKCTL {
	case maskSkAll:
		return true
	case maskSkCyl:
		return code == cmdSeekCyl || code == cmdSeekHead
	case maskSkHead:
		return code == cmdSeekHead
	}
	return false
}

// Check if write permitted by file mask.
func (device *ModelCKDctx) writeAllowed(code uint8) bool {
	switch device.sess.mask & maskWRCTL {
	case maskInhWrite:
		return false
	case maskInhWHA0:
		return code != cmdWriteHA && code != cmdWriteR0
	case maskInhWHA:
		return code != cmdWriteHA
	}
	return true
}
