/*
 * S370 - CKD prefix and perform subsystem function.
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
	"fmt"

	"github.com/rcornwell/S370dasd/util/xlat"
)

const (
	// Prefix formats.
	pfxDXLRE = 0x00 // Define extent and locate record extended
	pfxDX    = 0x01 // Define extent only
	pfxPSF   = 0x02 // Perform subsystem function

	pfxValidDX = 0x80 // Define extent present
	pfxTrusted = 0x80 // Parameters already validated

	pfxDXOff  = 12 // Offset of define extent
	pfxLREOff = 44 // Offset of locate record extended
	pfxPSFOff = 12 // Offset of subsystem function
	pfxLength = 64

	// Perform subsystem function orders.
	psfCommit   = 0x10 // Commit
	psfPrepRSSD = 0x18 // Prepare for read subsystem data
	psfSetChar  = 0x1d // Set subsystem characteristics

	// Read subsystem data suborders.
	rssdPathStatus = 0x00 // Storage path status
	rssdStatistics = 0x01 // Subsystem statistics
	rssdHostAccess = 0x02 // Host access query
	rssdNED        = 0x03 // Node element descriptors
	rssdUnitConfig = 0x0e // Unit address configuration
)

// Prefix command, must start the chain. Returns bytes consumed.
func (device *ModelCKDctx) prefix(data []byte, first bool) (int, error) {
	if device.model.Legacy || device.cu.Code == 0 {
		return 0, cmdReject(msgInvalidCmd)
	}
	if !first {
		return 0, cmdReject(msgInvalidSeq)
	}
	if len(data) < pfxDXOff {
		return 0, cmdReject(msgCountLow)
	}
	validate := data[2]&pfxTrusted == 0
	switch data[0] {
	case pfxDXLRE:
		if len(data) < pfxLREOff+lreLength {
			return 0, cmdReject(msgCountLow)
		}
		lre := data[pfxLREOff:]
		op := lre[0] & lrOpMask
		if data[1]&pfxValidDX != 0 {
			relaxed := op == lrReadAny || op == lrWriteAny
			if err := device.defineExtent(data[pfxDXOff:pfxLREOff], validate, relaxed); err != nil {
				return 0, err
			}
		}
		n, err := device.locateRecord(lre, true, validate)
		return pfxLREOff + n, err
	case pfxDX:
		if len(data) < pfxLREOff {
			return 0, cmdReject(msgCountLow)
		}
		if data[1]&pfxValidDX != 0 {
			if err := device.defineExtent(data[pfxDXOff:pfxLREOff], validate, false); err != nil {
				return 0, err
			}
		}
		return pfxLREOff, nil
	case pfxPSF:
		n, err := device.performFunction(data[pfxPSFOff:])
		return pfxPSFOff + n, err
	}
	return 0, cmdReject(msgInvalidParm)
}

// Perform subsystem function. Returns bytes consumed.
func (device *ModelCKDctx) performFunction(data []byte) (int, error) {
	if device.cu.Code == 0 {
		return 0, cmdReject(msgInvalidCmd)
	}
	if len(data) < 1 {
		return 0, cmdReject(msgCountLow)
	}
	switch data[0] {
	case psfPrepRSSD:
		if len(data) < 12 {
			return 0, cmdReject(msgCountLow)
		}
		ssd, err := device.subsystemData(data[6])
		if err != nil {
			return 0, err
		}
		device.sess.ssd = ssd
		return 12, nil
	case psfSetChar:
		return len(data), nil
	case psfCommit:
		return len(data), device.flushCurrent()
	}
	return 0, cmdReject(msgInvalidParm)
}

// Build data returned by next read subsystem data.
func (device *ModelCKDctx) subsystemData(sub uint8) ([]byte, error) {
	switch sub {
	case rssdPathStatus:
		buf := make([]byte, 16)
		for p := range min(device.cu.Paths, 4) {
			buf[p*4] = 0xc0
		}
		return buf, nil
	case rssdStatistics:
		buf := make([]byte, 96)
		binary.BigEndian.PutUint16(buf[0:], device.addr)
		st := device.cache.Stats()
		binary.BigEndian.PutUint32(buf[4:], uint32(st.Hits+st.Misses))
		binary.BigEndian.PutUint32(buf[8:], uint32(st.Hits))
		binary.BigEndian.PutUint32(buf[12:], uint32(st.Misses))
		binary.BigEndian.PutUint32(buf[16:], uint32(st.Waits))
		return buf, nil
	case rssdHostAccess:
		buf := make([]byte, 40)
		binary.BigEndian.PutUint16(buf[0:], device.addr)
		buf[2] = device.pgState
		copy(buf[3:14], device.pgid[:])
		if device.reserved.Load() {
			buf[14] = 0x80
		}
		return buf, nil
	case rssdNED:
		buf := make([]byte, 96)
		device.nodeDescriptor(buf[0:32], 0xc4, 0x01, device.model.DevType)
		device.nodeDescriptor(buf[32:64], 0xc0, 0x02, device.cu.Type)
		device.nodeDescriptor(buf[64:96], 0xd0, 0x00, device.cu.Type)
		return buf, nil
	case rssdUnitConfig:
		buf := make([]byte, 512)
		buf[int(device.addr&0xff)*2] = 0x01
		return buf, nil
	}
	return nil, cmdReject(msgInvalidParm)
}

// Fill one 32 byte node element descriptor.
func (device *ModelCKDctx) nodeDescriptor(buf []byte, flags, kind uint8, devType uint16) {
	buf[0] = flags
	buf[1] = kind
	buf[2] = 0x01
	xlat.StringToEBCDIC(fmt.Sprintf("%06X", devType), buf[4:10])
	xlat.StringToEBCDIC(fmt.Sprintf("%03d", device.model.Model), buf[10:13])
	xlat.StringToEBCDIC("IBM", buf[13:16])
	xlat.StringToEBCDIC("13", buf[16:18])
	xlat.StringToEBCDIC(fmt.Sprintf("%012X", device.addr), buf[18:30])
	binary.BigEndian.PutUint16(buf[30:], device.addr)
}
