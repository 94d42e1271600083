/*
 * S370 - Channel test device.
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

package syschannel

import (
	dev "github.com/rcornwell/S370dasd/emu/device"
)

// Device that records each command it is given.
type testDev struct {
	data    []byte          // Returned by read commands
	ipl     []byte          // Returned by first Read IPL
	sense   uint8           // Current sense byte
	status  map[uint8]uint8 // Extra status per command
	busy    bool            // Device is busy
	halt    bool            // Halt I/O requested
	resets  int             // Number of InitDev calls
	ccws    []dev.CCW       // Commands executed
	written [][]byte        // Data of output commands
}

func (d *testDev) StartIO() uint8 {
	if d.busy {
		return dev.CStatusBusy
	}
	return 0
}

func (d *testDev) ExecuteCCW(ccw *dev.CCW, buf []byte) (uint8, int, bool) {
	d.ccws = append(d.ccws, *ccw)
	status := dev.CStatusChnEnd | dev.CStatusDevEnd | d.status[ccw.Code]
	switch {
	case ccw.Code&1 == 1 && ccw.Code&3 != 3: // Write
		d.written = append(d.written, append([]byte(nil), buf...))
		return status, 0, false
	case ccw.Code&3 == 2, ccw.Code&0xf == dev.CmdRDBWD: // Read
		src := d.data
		if ccw.Code == 0x02 && ccw.Seq == 0 && d.ipl != nil {
			src = d.ipl
		}
		n := copy(buf, src)
		return status, len(buf) - n, len(src) > len(buf)
	case ccw.Code&0xf == dev.CmdSense:
		if len(buf) > 0 {
			buf[0] = d.sense
			d.sense = 0
			return status, len(buf) - 1, false
		}
		return status, 0, false
	case ccw.Code == 0x03: // Nop
		return status, len(buf), false
	default:
		d.sense = dev.SenseCMDREJ
		return status | dev.CStatusCheck, len(buf), false
	}
}

func (d *testDev) HaltIO() uint8 {
	d.halt = true
	return 1
}

func (d *testDev) InitDev() uint8 {
	d.resets++
	d.sense = 0
	d.busy = false
	return 0
}

func (d *testDev) Debug(_ string) error {
	return nil
}
