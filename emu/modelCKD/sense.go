/*
 * S370 - CKD sense data.
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
	"log/slog"

	dev "github.com/rcornwell/S370dasd/emu/device"
)

const (
	// Sense byte 1.
	sense1PERM = 0x80 // Permanent error
	sense1ITF  = 0x40 // Invalid track format
	sense1EOC  = 0x20 // End of cylinder
	sense1MTO  = 0x10 // Message to operator
	sense1NRF  = 0x08 // No record found
	sense1FP   = 0x04 // File protected
	sense1WRI  = 0x02 // Write inhibited
	sense1IE   = 0x01 // Operation incomplete

	// Sense formats.
	format0 = 0 // Program or system check
	format1 = 1 // Device equipment check

	// Format 0 messages.
	msgNone        = 0x0
	msgInvalidCmd  = 0x1 // Invalid command
	msgInvalidSeq  = 0x2 // Invalid command sequence
	msgCountLow    = 0x3 // CCW count less than required
	msgInvalidParm = 0x4 // Invalid parameter
)

// Unit check condition raised by a command.
type senseError struct {
	sense0 uint8
	sense1 uint8
	format uint8
	msg    uint8
	err    error
}

func (e *senseError) Error() string {
	s := fmt.Sprintf("sense %02x %02x format %d message %d", e.sense0, e.sense1, e.format, e.msg)
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

func (e *senseError) Unwrap() error {
	return e.err
}

func cmdReject(msg uint8) *senseError {
	return &senseError{sense0: dev.SenseCMDREJ, format: format0, msg: msg}
}

func fileProtect() *senseError {
	return &senseError{sense1: sense1FP}
}

func noRecord() *senseError {
	return &senseError{sense1: sense1NRF}
}

func trackFormat() *senseError {
	return &senseError{sense1: sense1ITF}
}

func endOfCylinder() *senseError {
	return &senseError{sense1: sense1EOC}
}

func intervention() *senseError {
	return &senseError{sense0: dev.SenseINTVENT}
}

func writeInhibit() *senseError {
	return &senseError{sense0: dev.SenseCMDREJ, sense1: sense1WRI, msg: msgInvalidCmd}
}

func equipCheck(err error) *senseError {
	slog.Error("DASD equipment check", "error", err)
	return &senseError{sense0: dev.SenseEQUCHK, sense1: sense1PERM, format: format1, err: err}
}

// Sense layout for a storage control.
type senseLayout struct {
	length   int   // Sense bytes returned
	driveBit bool  // Drive shown as bit in byte 4
	drive    uint8 // Mask of address bits for drive number
	headBits uint  // Bits of head in byte 6
	fullCyl  bool  // Cylinder repeated in bytes 29 and 30
}

var senseLayouts = map[string]senseLayout{
	"2841": {length: 6, driveBit: true, drive: 0x07},
	"2314": {length: 6, driveBit: true, drive: 0x07},
	"3830": {length: 24, drive: 0x07, headBits: 5},
	"3880": {length: 24, drive: 0x0f, headBits: 4},
	"3990": {length: 32, drive: 0x0f, headBits: 4, fullCyl: true},
	"9343": {length: 32, drive: 0x0f, headBits: 4, fullCyl: true},
}

// Number of sense bytes for this device.
func (device *ModelCKDctx) senseLength() int {
	if l, ok := senseLayouts[device.model.CU]; ok {
		return l.length
	}
	return device.model.SenseLen
}

// Fill in sense bytes for error.
func (device *ModelCKDctx) buildSense(e *senseError) {
	layout, ok := senseLayouts[device.model.CU]
	if !ok {
		layout = senseLayout{length: device.model.SenseLen, drive: 0x07}
	}
	clear(device.sense[:])
	s := device.sense[:layout.length]
	s[0] = e.sense0
	s[1] = e.sense1
	drive := uint8(device.addr) & layout.drive
	if layout.driveBit {
		s[4] = 0x80 >> drive
		return
	}
	if device.sess.lrCount > 0 {
		s[3] = uint8(device.sess.lrCount)
	}
	s[4] = drive
	s[5] = uint8(device.cyl)
	s[6] = uint8(device.cyl>>8)<<layout.headBits | uint8(device.head)&(1<<layout.headBits-1)
	s[7] = e.format<<4 | e.msg&0x0f
	binary.BigEndian.PutUint16(s[8:], uint16(device.cyl))
	binary.BigEndian.PutUint16(s[10:], uint16(device.head))
	if layout.fullCyl {
		binary.BigEndian.PutUint16(s[29:], uint16(device.cyl))
	}
}
