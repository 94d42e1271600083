/*
 * S370 - CKD write commands.
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

	"github.com/rcornwell/S370dasd/emu/geometry"
	"github.com/rcornwell/S370dasd/util/ckdimage"
)

// Write data, update data in a domain.
func (device *ModelCKDctx) opWriteData(req *request) error {
	if err := device.writeSequence(req, flIDEQ|flKYEQ); err != nil {
		return err
	}
	if req.ccw.Code == cmdWriteUpd && device.sess.lrCount == 0 {
		return cmdReject(msgInvalidSeq)
	}
	s := &device.sess
	if s.lrCount > 0 && s.lrAux&lrAuxTLF != 0 && s.gattr&gattrCKDConv == 0 &&
		len(req.buf) != s.lrTLF {
		return trackFormat()
	}
	used, total, err := device.writeData(req.buf, req.op.sc)
	if err != nil {
		return err
	}
	req.count = used
	req.more = len(req.buf) < total
	return nil
}

// Write key and data, update key and data in a domain.
func (device *ModelCKDctx) opWriteKeyData(req *request) error {
	if err := device.writeSequence(req, flIDEQ); err != nil {
		return err
	}
	if req.ccw.Code == cmdWriteUpdKD && device.sess.lrCount == 0 {
		return cmdReject(msgInvalidSeq)
	}
	used, total, err := device.writeKeyData(req.buf, req.op.sc)
	if err != nil {
		return err
	}
	req.count = used
	req.more = len(req.buf) < total
	return nil
}

// Split channel data into count, key and data of new record.
func newRecord(buf []byte) (ckdimage.Count, []byte, []byte, int, error) {
	if len(buf) < geometry.CountSize {
		return ckdimage.Count{}, nil, nil, 0, cmdReject(msgCountLow)
	}
	c := ckdimage.GetCount(buf)
	rest := buf[geometry.CountSize:]
	key := rest[:min(len(rest), int(c.KeyLen))]
	rest = rest[len(key):]
	data := rest[:min(len(rest), int(c.DataLen))]
	return c, key, data, geometry.CountSize + len(key) + len(data), nil
}

// Write count key and data, write special count key and data.
func (device *ModelCKDctx) opWriteCKD(req *request) error {
	if err := device.writeSequence(req, flIDEQ|flHAEQ|flWCKD); err != nil {
		return err
	}
	c, key, data, used, err := newRecord(req.buf)
	if err != nil {
		return err
	}
	if req.ccw.Code == cmdWriteSpCKD && device.cyls < 32768 {
		c.Cyl |= overflowBit
	}
	if int(c.DataLen) > device.model.R1Len {
		return cmdReject(msgInvalidParm)
	}
	if err = device.loadTrack(); err != nil {
		return err
	}
	if err = device.writeRecord(device.appendPos(), c, key, data); err != nil {
		return err
	}
	req.count = used
	req.more = used < c.Size()
	device.sess.flags |= flWCKD
	return nil
}

// Write count key and data on next track after record zero.
func (device *ModelCKDctx) opWriteCKDNext(req *request) error {
	if device.sess.lrCount == 0 {
		return cmdReject(msgInvalidSeq)
	}
	c, key, data, used, err := newRecord(req.buf)
	if err != nil {
		return err
	}
	if err = device.nextTrack(false); err != nil {
		return err
	}
	err = device.readCount(true)
	if err != nil && !errors.Is(err, errEOT) {
		return err
	}
	if err = device.writeRecord(device.appendPos(), c, key, data); err != nil {
		return err
	}
	req.count = used
	device.sess.flags |= flWCKD
	return nil
}

// Write record zero after home address.
func (device *ModelCKDctx) opWriteR0(req *request) error {
	if err := device.writeSequence(req, flHAEQ); err != nil {
		return err
	}
	c, key, data, used, err := newRecord(req.buf)
	if err != nil {
		return err
	}
	if c.Rec != 0 || int(c.DataLen) > device.model.R0Len {
		return cmdReject(msgInvalidParm)
	}
	if err = device.loadTrack(); err != nil {
		return err
	}
	if err = device.writeRecord(geometry.HASize, c, key, data); err != nil {
		return err
	}
	req.count = used
	device.sess.flags |= flWCKD
	return nil
}

// Write home address, must follow seek.
func (device *ModelCKDctx) opWriteHA(req *request) error {
	if req.prev&flSEEK == 0 {
		return cmdReject(msgInvalidSeq)
	}
	if err := req.need(geometry.HASize); err != nil {
		return err
	}
	if err := device.loadTrack(); err != nil {
		return err
	}
	if err := device.writeBytes(0, req.buf[:geometry.HASize]); err != nil {
		return err
	}
	if err := device.writeBytes(geometry.HASize, ckdimage.EOT[:]); err != nil {
		return err
	}
	req.count = geometry.HASize
	device.orient = orientIndex
	device.index = false
	device.sess.flags |= flHAEQ
	return nil
}

// Erase rest of track after current record.
func (device *ModelCKDctx) opErase(req *request) error {
	if err := device.writeSequence(req, flIDEQ|flHAEQ|flWCKD); err != nil {
		return err
	}
	if err := device.loadTrack(); err != nil {
		return err
	}
	if err := device.eraseFrom(device.appendPos()); err != nil {
		return err
	}
	req.count = len(req.buf)
	return nil
}
