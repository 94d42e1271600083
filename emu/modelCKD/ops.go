/*
 * S370 - CKD control and sense commands.
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

	"github.com/rcornwell/S370dasd/emu/geometry"
)

const (
	senseIDLength = 7
	rdcLength     = 64
	pgidLength    = 12
	dxLength      = 32
)

func (device *ModelCKDctx) opNOP(_ *request) error {
	return nil
}

// Seek, seek cylinder and seek head.
func (device *ModelCKDctx) opSeek(req *request) error {
	if err := req.need(6); err != nil {
		return err
	}
	code := req.ccw.Code
	if !device.seekAllowed(code) {
		return cmdReject(msgInvalidParm)
	}
	buf := req.buf
	if buf[0] != 0 || buf[1] != 0 {
		return cmdReject(msgInvalidParm)
	}
	cyl := int(binary.BigEndian.Uint16(buf[2:]))
	head := int(binary.BigEndian.Uint16(buf[4:]))
	if code == cmdSeekHead {
		cyl = device.cyl
	}
	if cyl >= device.cyls || head >= device.heads {
		return cmdReject(msgInvalidParm)
	}
	if !device.inExtent(cyl, head) {
		return fileProtect()
	}
	req.count = 6
	if err := device.seekTrack(cyl, head); err != nil {
		return err
	}
	device.sess.seeked = true
	device.sess.flags |= flSEEK
	return nil
}

// Recalibrate to cylinder 0 head 0.
func (device *ModelCKDctx) opRecal(_ *request) error {
	if device.sess.dx || device.sess.mask&maskSKCTL != maskSkAll {
		return cmdReject(msgInvalidSeq)
	}
	if err := device.seekTrack(0, 0); err != nil {
		return err
	}
	device.sess.seeked = true
	device.sess.flags |= flSEEK
	return nil
}

func (device *ModelCKDctx) opSetMask(req *request) error {
	if err := device.setFileMask(req.buf); err != nil {
		return err
	}
	req.count = 1
	return nil
}

// Sector of current position.
func (device *ModelCKDctx) sector() uint8 {
	switch device.orient {
	case orientNone, orientIndex:
		return 0
	}
	return uint8(device.pos * device.model.Sectors / len(device.buf))
}

func (device *ModelCKDctx) opReadSector(req *request) error {
	if device.model.Sectors == 0 {
		return cmdReject(msgInvalidCmd)
	}
	if err := device.loadTrack(); err != nil {
		return err
	}
	req.put([]byte{device.sector()})
	return nil
}

// Set sector, moves to index then waits for sector.
func (device *ModelCKDctx) opSetSector(req *request) error {
	if device.model.Sectors == 0 {
		return cmdReject(msgInvalidCmd)
	}
	if err := req.need(1); err != nil {
		return err
	}
	sect := req.buf[0]
	if sect != 0xff && int(sect) >= device.model.Sectors {
		return cmdReject(msgInvalidParm)
	}
	if err := device.loadTrack(); err != nil {
		return err
	}
	req.count = 1
	device.orient = orientIndex
	device.index = false
	return nil
}

func (device *ModelCKDctx) opDefineExtent(req *request) error {
	if err := device.defineExtent(req.buf, true, false); err != nil {
		return err
	}
	req.count = min(len(req.buf), dxLength)
	return nil
}

func (device *ModelCKDctx) opLocate(req *request) error {
	n, err := device.locateRecord(req.buf, req.ccw.Code == cmdLocateExt, true)
	if err != nil {
		return err
	}
	req.count = n
	return nil
}

func (device *ModelCKDctx) opPrefix(req *request) error {
	n, err := device.prefix(req.buf, req.ccw.Chained == 0)
	if err != nil {
		return err
	}
	req.count = min(n, len(req.buf))
	return nil
}

func (device *ModelCKDctx) opPSF(req *request) error {
	n, err := device.performFunction(req.buf)
	if err != nil {
		return err
	}
	req.count = n
	return nil
}

// Reserve, release and unconditional reserve return sense bytes.
func (device *ModelCKDctx) opReserve(req *request) error {
	if device.model.Legacy {
		return cmdReject(msgInvalidCmd)
	}
	device.reserved.Store(req.ccw.Code != cmdRelease)
	req.put(device.sense[:device.senseLength()])
	clear(device.sense[:])
	return nil
}

func (device *ModelCKDctx) opSetPGID(req *request) error {
	if device.cu.Code == 0 {
		return cmdReject(msgInvalidCmd)
	}
	if err := req.need(pgidLength); err != nil {
		return err
	}
	device.pgState = req.buf[0]
	copy(device.pgid[:], req.buf[1:pgidLength])
	req.count = pgidLength
	return nil
}

func (device *ModelCKDctx) opSense(req *request) error {
	req.put(device.sense[:device.senseLength()])
	clear(device.sense[:])
	return nil
}

func (device *ModelCKDctx) opSenseID(req *request) error {
	if device.model.Legacy {
		return cmdReject(msgInvalidCmd)
	}
	var buf [senseIDLength]byte
	buf[0] = 0xff
	binary.BigEndian.PutUint16(buf[1:], device.cu.Type)
	buf[3] = device.cu.Model
	binary.BigEndian.PutUint16(buf[4:], device.model.DevType)
	buf[6] = device.model.Model
	req.put(buf[:])
	return nil
}

// Read device characteristics.
func (device *ModelCKDctx) opRDC(req *request) error {
	if device.cu.Code == 0 {
		return cmdReject(msgInvalidCmd)
	}
	req.put(deviceCharacteristics(device.model, device.cu, device.cyls))
	return nil
}

// Build device characteristics block.
func deviceCharacteristics(m *geometry.DASD, cu *geometry.ControlUnit, cyls int) []byte {
	buf := make([]byte, rdcLength)
	binary.BigEndian.PutUint16(buf[0:], cu.Type)
	buf[2] = cu.Model
	binary.BigEndian.PutUint32(buf[3:], cu.Feature)
	binary.BigEndian.PutUint16(buf[7:], m.DevType)
	buf[9] = m.Model
	buf[14] = m.Class
	buf[15] = m.Code
	binary.BigEndian.PutUint16(buf[16:], uint16(min(cyls-m.AltCyls, 0xffff)))
	binary.BigEndian.PutUint16(buf[18:], uint16(m.Heads))
	buf[20] = uint8(m.Sectors)
	buf[21] = uint8(m.R1Len >> 16)
	binary.BigEndian.PutUint16(buf[22:], uint16(m.R1Len))
	binary.BigEndian.PutUint16(buf[24:], uint16(geometry.HASize+geometry.CountSize+8))
	binary.BigEndian.PutUint16(buf[32:], uint16(cyls-m.AltCyls))
	binary.BigEndian.PutUint16(buf[34:], uint16(m.AltCyls*m.Heads))
	binary.BigEndian.PutUint16(buf[44:], uint16(m.R0Len))
	buf[48] = cu.Code
	return buf
}

func (device *ModelCKDctx) opSensePGID(req *request) error {
	if device.cu.Code == 0 {
		return cmdReject(msgInvalidCmd)
	}
	var buf [pgidLength]byte
	buf[0] = device.pgState
	copy(buf[1:], device.pgid[:])
	req.put(buf[:])
	return nil
}

// Read and reset buffered log, no log is kept.
func (device *ModelCKDctx) opRRBL(req *request) error {
	req.put(make([]byte, device.senseLength()))
	return nil
}

// Return staged subsystem data.
func (device *ModelCKDctx) opRSSD(req *request) error {
	if len(device.sess.ssd) == 0 {
		return cmdReject(msgInvalidSeq)
	}
	req.put(device.sess.ssd)
	device.sess.ssd = nil
	return nil
}
