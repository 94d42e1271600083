/*
 * S370 - CKD read and search commands.
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
	"errors"

	dev "github.com/rcornwell/S370dasd/emu/device"
	"github.com/rcornwell/S370dasd/emu/geometry"
)

// Read IPL, seek to cylinder 0 head 0 and read data of record 1.
func (device *ModelCKDctx) opReadIPL(req *request) error {
	if err := device.seekTrack(0, 0); err != nil {
		return err
	}
	device.sess.ipl = true
	device.sess.seeked = true
	data, err := device.readDataAll(scan{})
	if err != nil {
		return err
	}
	req.put(data)
	return nil
}

func (device *ModelCKDctx) opReadData(req *request) error {
	data, err := device.readDataAll(req.op.sc)
	if err != nil {
		return err
	}
	req.put(data)
	return nil
}

func (device *ModelCKDctx) opReadKeyData(req *request) error {
	key, err := device.readKey(req.op.sc)
	if err != nil {
		return err
	}
	req.put(key)
	data, err := device.readDataAll(req.op.sc)
	if err != nil {
		return err
	}
	req.put(data)
	return nil
}

// Read count, key and data of next record.
func (device *ModelCKDctx) opReadCKD(req *request) error {
	if err := device.nextCount(req.op.sc); err != nil {
		return err
	}
	return device.putRecord(req)
}

// Move count, key and data of current record to channel.
func (device *ModelCKDctx) putRecord(req *request) error {
	req.put(device.countBytes())
	key, err := device.readKey(scan{})
	if err != nil {
		return err
	}
	req.put(key)
	data, err := device.readDataAll(scan{})
	if err != nil {
		return err
	}
	req.put(data)
	return nil
}

func (device *ModelCKDctx) opReadCount(req *request) error {
	if err := device.nextCount(req.op.sc); err != nil {
		return err
	}
	req.put(device.countBytes())
	return nil
}

// Read record zero from current track.
func (device *ModelCKDctx) opReadR0(req *request) error {
	if err := device.loadTrack(); err != nil {
		return err
	}
	device.orient = orientIndex
	err := device.readCount(true)
	if errors.Is(err, errEOT) {
		return noRecord()
	}
	if err != nil {
		return err
	}
	return device.putRecord(req)
}

// Read home address.
func (device *ModelCKDctx) opReadHA(req *request) error {
	if err := device.loadTrack(); err != nil {
		return err
	}
	req.put(device.buf[:geometry.HASize])
	device.orient = orientIndex
	device.index = false
	device.sess.flags |= flHAEQ
	return nil
}

// Read all records of a track inside a read tracks domain.
func (device *ModelCKDctx) opReadTrack(req *request) error {
	s := &device.sess
	switch device.domainOp() {
	case lrReadTracks, lrReadTrkSet:
	default:
		return cmdReject(msgInvalidSeq)
	}
	if s.lrCount == 0 {
		return cmdReject(msgInvalidSeq)
	}
	switch {
	case s.lrFirst:
		s.lrFirst = false
		if len(s.trkSet) > 0 {
			s.trkSet = s.trkSet[1:]
		}
	case device.domainOp() == lrReadTrkSet:
		if len(s.trkSet) == 0 {
			return cmdReject(msgInvalidSeq)
		}
		trk := s.trkSet[0]
		s.trkSet = s.trkSet[1:]
		if err := device.seekTrack(trk/device.heads, trk%device.heads); err != nil {
			return err
		}
	default:
		if err := device.nextTrack(false); err != nil {
			return err
		}
	}
	if err := device.loadTrack(); err != nil {
		return err
	}
	device.orient = orientIndex
	return device.readRecords(req, true)
}

// Read multiple count key and data, rest of track.
func (device *ModelCKDctx) opReadMulti(req *request) error {
	return device.readRecords(req, false)
}

// Move every remaining record on track to channel.
func (device *ModelCKDctx) readRecords(req *request, r0 bool) error {
	for {
		err := device.readCount(r0)
		if errors.Is(err, errEOT) {
			return nil
		}
		if err != nil {
			return err
		}
		req.put(device.countBytes())
		key, err := device.readKey(scan{})
		if err != nil {
			return err
		}
		req.put(key)
		data, err := device.readData(scan{})
		if err != nil {
			return err
		}
		req.put(data)
	}
}

// Search ID equal, high or equal or high.
func (device *ModelCKDctx) opSearchID(req *request) error {
	if err := device.nextCount(req.op.sc); err != nil {
		return err
	}
	n := min(len(req.buf), 5)
	id := device.recordID()
	cmp := bytes.Compare(id[:n], req.buf[:n])
	req.count = n
	if device.searchMatch(req.ccw.Code, cmp) {
		req.status |= dev.CStatusSMS
		if cmp == 0 {
			device.sess.flags |= flIDEQ
		}
	}
	return nil
}

// Search key, records without keys are skipped.
func (device *ModelCKDctx) opSearchKey(req *request) error {
	if device.orient != orientCount || device.count.KeyLen == 0 {
		for {
			if err := device.nextCount(req.op.sc); err != nil {
				return err
			}
			if device.count.KeyLen != 0 {
				break
			}
		}
	}
	key, err := device.readKey(scan{})
	if err != nil {
		return err
	}
	n := min(len(req.buf), len(key))
	cmp := bytes.Compare(key[:n], req.buf[:n])
	req.count = n
	if device.searchMatch(req.ccw.Code, cmp) {
		req.status |= dev.CStatusSMS
		if cmp == 0 {
			device.sess.flags |= flKYEQ
		}
	}
	return nil
}

// Search home address equal, each search passes the index point.
func (device *ModelCKDctx) opSearchHA(req *request) error {
	if err := device.loadTrack(); err != nil {
		return err
	}
	if device.index || (device.orient != orientNone && device.orient != orientIndex) {
		if req.op.sc.mt {
			if err := device.nextTrack(true); err != nil {
				return err
			}
		} else if device.index {
			return noRecord()
		}
	}
	n := min(len(req.buf), geometry.HASize-1)
	req.count = n
	device.orient = orientIndex
	device.index = true
	device.pos = 0
	if bytes.Equal(device.buf[1:1+n], req.buf[:n]) {
		req.status |= dev.CStatusSMS
		device.sess.flags |= flHAEQ
	}
	return nil
}

// Compare result matches search condition.
func (device *ModelCKDctx) searchMatch(code uint8, cmp int) bool {
	switch code &^ cmdMT {
	case cmdSrchIDEq, cmdSrchKeyEq:
		return cmp == 0
	case cmdSrchIDHi, cmdSrchKeyHi:
		return cmp > 0
	}
	return cmp >= 0
}
