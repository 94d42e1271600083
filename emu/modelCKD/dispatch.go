/*
 * S370 - CKD command dispatch.
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
	"log/slog"
	"strings"

	dev "github.com/rcornwell/S370dasd/emu/device"
	debug "github.com/rcornwell/S370dasd/util/debug"
	hex "github.com/rcornwell/S370dasd/util/hex"
)

const (
	cmdWriteSpCKD = 0x01 // Write special count key and data
	cmdReadIPL    = 0x02 // Read initial program load
	cmdNOP        = 0x03 // No operation
	cmdSense      = 0x04 // Sense
	cmdWriteData  = 0x05 // Write data
	cmdReadData   = 0x06 // Read data
	cmdSeek       = 0x07 // Seek
	cmdSeekCyl    = 0x0b // Seek cylinder
	cmdWriteKD    = 0x0d // Write key and data
	cmdReadKD     = 0x0e // Read key and data
	cmdErase      = 0x11 // Erase
	cmdReadCount  = 0x12 // Read count
	cmdRecal      = 0x13 // Recalibrate
	cmdUncondRes  = 0x14 // Unconditional reserve
	cmdWriteR0    = 0x15 // Write record zero
	cmdReadR0     = 0x16 // Read record zero
	cmdRestore    = 0x17 // Restore
	cmdWriteHA    = 0x19 // Write home address
	cmdReadHA     = 0x1a // Read home address
	cmdSeekHead   = 0x1b // Seek head
	cmdWriteCKD   = 0x1d // Write count key and data
	cmdReadCKD    = 0x1e // Read count key and data
	cmdSetMask    = 0x1f // Set file mask
	cmdReadSector = 0x22 // Read sector
	cmdSetSector  = 0x23 // Set sector
	cmdPSF        = 0x27 // Perform subsystem function
	cmdSrchKeyEq  = 0x29 // Search key equal
	cmdSrchIDEq   = 0x31 // Search ID equal
	cmdSensePGID  = 0x34 // Sense path group id
	cmdSrchHAEq   = 0x39 // Search home address equal
	cmdRSSD       = 0x3e // Read subsystem data
	cmdLocate     = 0x47 // Locate record
	cmdSrchKeyHi  = 0x49 // Search key high
	cmdLocateExt  = 0x4b // Locate record extended
	cmdSrchIDHi   = 0x51 // Search ID high
	cmdReadMulti  = 0x5e // Read multiple count key and data
	cmdDefExt     = 0x63 // Define extent
	cmdRDC        = 0x64 // Read device characteristics
	cmdSrchKeyEH  = 0x69 // Search key equal or high
	cmdSrchIDEH   = 0x71 // Search ID equal or high
	cmdMT         = 0x80 // Multi-track flag
	cmdWriteUpd   = 0x85 // Write update data
	cmdWriteUpdKD = 0x8d // Write update key and data
	cmdRelease    = 0x94 // Device release
	cmdWriteCKDNT = 0x9d // Write count key and data next track
	cmdRRBL       = 0xa4 // Read and reset buffered log
	cmdSetPGID    = 0xaf // Set path group id
	cmdReserve    = 0xb4 // Device reserve
	cmdReadTrack  = 0xde // Read track
	cmdSenseID    = 0xe4 // Sense id
	cmdPrefix     = 0xe7 // Prefix

	ccwCC = dev.FlagCC
)

// Search and write sequencing flags.
const (
	flHAEQ = 1 << iota // Search home address equal
	flIDEQ             // Search ID equal
	flKYEQ             // Search key equal
	flWCKD             // Write CKD or record zero
	flSEEK             // Seek executed
)

// Command family, guard conditions apply per family.
type family int

const (
	famControl family = iota
	famSense
	famRead
	famWrite
	famSearch
)

// Command table entry.
type opDef struct {
	name string
	fam  family
	sc   scan
	fn   func(*ModelCKDctx, *request) error
}

// State of one CCW being executed.
type request struct {
	ccw    *dev.CCW
	op     *opDef
	buf    []byte
	prev   uint8 // Flags left by previous command
	count  int   // Bytes transferred
	more   bool  // Record longer than transfer
	status uint8 // Additional unit status
}

// Move data to channel buffer.
func (req *request) put(data []byte) {
	n := copy(req.buf[req.count:], data)
	req.count += n
	if n < len(data) {
		req.more = true
	}
}

// Make sure channel supplied enough bytes.
func (req *request) need(n int) error {
	if len(req.buf) < n {
		return cmdReject(msgCountLow)
	}
	return nil
}

var opTable = buildOpTable()

func buildOpTable() map[uint8]*opDef {
	table := map[uint8]*opDef{
		cmdNOP:        {"NOP", famControl, scan{}, (*ModelCKDctx).opNOP},
		cmdSeek:       {"SEEK", famControl, scan{}, (*ModelCKDctx).opSeek},
		cmdSeekCyl:    {"SEEK CYL", famControl, scan{}, (*ModelCKDctx).opSeek},
		cmdSeekHead:   {"SEEK HEAD", famControl, scan{}, (*ModelCKDctx).opSeek},
		cmdRecal:      {"RECAL", famControl, scan{}, (*ModelCKDctx).opRecal},
		cmdRestore:    {"RESTORE", famControl, scan{}, (*ModelCKDctx).opNOP},
		cmdSetMask:    {"SET MASK", famControl, scan{}, (*ModelCKDctx).opSetMask},
		cmdReadSector: {"READ SECTOR", famControl, scan{}, (*ModelCKDctx).opReadSector},
		cmdSetSector:  {"SET SECTOR", famControl, scan{}, (*ModelCKDctx).opSetSector},
		cmdDefExt:     {"DEFINE EXTENT", famControl, scan{}, (*ModelCKDctx).opDefineExtent},
		cmdLocate:     {"LOCATE", famControl, scan{r0: true}, (*ModelCKDctx).opLocate},
		cmdLocateExt:  {"LOCATE EXT", famControl, scan{r0: true}, (*ModelCKDctx).opLocate},
		cmdPrefix:     {"PREFIX", famControl, scan{r0: true}, (*ModelCKDctx).opPrefix},
		cmdPSF:        {"PSF", famControl, scan{}, (*ModelCKDctx).opPSF},
		cmdReserve:    {"RESERVE", famControl, scan{}, (*ModelCKDctx).opReserve},
		cmdRelease:    {"RELEASE", famControl, scan{}, (*ModelCKDctx).opReserve},
		cmdUncondRes:  {"UNCOND RESERVE", famControl, scan{}, (*ModelCKDctx).opReserve},
		cmdSetPGID:    {"SET PGID", famControl, scan{}, (*ModelCKDctx).opSetPGID},

		cmdSense:     {"SENSE", famSense, scan{}, (*ModelCKDctx).opSense},
		cmdSenseID:   {"SENSE ID", famSense, scan{}, (*ModelCKDctx).opSenseID},
		cmdRDC:       {"RDC", famSense, scan{}, (*ModelCKDctx).opRDC},
		cmdSensePGID: {"SENSE PGID", famSense, scan{}, (*ModelCKDctx).opSensePGID},
		cmdRRBL:      {"RRBL", famSense, scan{}, (*ModelCKDctx).opRRBL},
		cmdRSSD:      {"RSSD", famSense, scan{}, (*ModelCKDctx).opRSSD},

		cmdReadIPL:   {"READ IPL", famRead, scan{}, (*ModelCKDctx).opReadIPL},
		cmdReadData:  {"READ DATA", famRead, scan{}, (*ModelCKDctx).opReadData},
		cmdReadKD:    {"READ KD", famRead, scan{}, (*ModelCKDctx).opReadKeyData},
		cmdReadCKD:   {"READ CKD", famRead, scan{}, (*ModelCKDctx).opReadCKD},
		cmdReadCount: {"READ COUNT", famRead, scan{}, (*ModelCKDctx).opReadCount},
		cmdReadR0:    {"READ R0", famRead, scan{r0: true}, (*ModelCKDctx).opReadR0},
		cmdReadHA:    {"READ HA", famRead, scan{}, (*ModelCKDctx).opReadHA},
		cmdReadTrack: {"READ TRACK", famRead, scan{r0: true}, (*ModelCKDctx).opReadTrack},
		cmdReadMulti: {"READ MULTIPLE", famRead, scan{}, (*ModelCKDctx).opReadMulti},

		cmdWriteData:  {"WRITE DATA", famWrite, scan{}, (*ModelCKDctx).opWriteData},
		cmdWriteUpd:   {"WRITE UPDATE", famWrite, scan{}, (*ModelCKDctx).opWriteData},
		cmdWriteKD:    {"WRITE KD", famWrite, scan{}, (*ModelCKDctx).opWriteKeyData},
		cmdWriteUpdKD: {"WRITE UPDATE KD", famWrite, scan{}, (*ModelCKDctx).opWriteKeyData},
		cmdWriteCKD:   {"WRITE CKD", famWrite, scan{}, (*ModelCKDctx).opWriteCKD},
		cmdWriteSpCKD: {"WRITE SPECIAL CKD", famWrite, scan{}, (*ModelCKDctx).opWriteCKD},
		cmdWriteR0:    {"WRITE R0", famWrite, scan{}, (*ModelCKDctx).opWriteR0},
		cmdWriteHA:    {"WRITE HA", famWrite, scan{}, (*ModelCKDctx).opWriteHA},
		cmdErase:      {"ERASE", famWrite, scan{}, (*ModelCKDctx).opErase},
		cmdWriteCKDNT: {"WRITE CKD NEXT TRACK", famWrite, scan{r0: true}, (*ModelCKDctx).opWriteCKDNext},

		cmdSrchIDEq:  {"SEARCH ID EQ", famSearch, scan{r0: true}, (*ModelCKDctx).opSearchID},
		cmdSrchIDHi:  {"SEARCH ID HI", famSearch, scan{r0: true}, (*ModelCKDctx).opSearchID},
		cmdSrchIDEH:  {"SEARCH ID EH", famSearch, scan{r0: true}, (*ModelCKDctx).opSearchID},
		cmdSrchKeyEq: {"SEARCH KEY EQ", famSearch, scan{}, (*ModelCKDctx).opSearchKey},
		cmdSrchKeyHi: {"SEARCH KEY HI", famSearch, scan{}, (*ModelCKDctx).opSearchKey},
		cmdSrchKeyEH: {"SEARCH KEY EH", famSearch, scan{}, (*ModelCKDctx).opSearchKey},
		cmdSrchHAEq:  {"SEARCH HA EQ", famSearch, scan{}, (*ModelCKDctx).opSearchHA},
	}

	// Multi-track variants.
	for _, code := range []uint8{
		cmdReadData, cmdReadKD, cmdReadCKD, cmdReadCount, cmdReadR0, cmdReadHA,
		cmdSrchIDEq, cmdSrchIDHi, cmdSrchIDEH, cmdSrchKeyEq, cmdSrchKeyHi,
		cmdSrchKeyEH, cmdSrchHAEq,
	} {
		op := *table[code]
		op.name += " MT"
		op.sc.mt = true
		table[code|cmdMT] = &op
	}
	return table
}

// Execute one CCW.
func (device *ModelCKDctx) ExecuteCCW(ccw *dev.CCW, buf []byte) (uint8, int, bool) {
	device.mu.Lock()
	defer device.mu.Unlock()

	if ccw.Chained == 0 {
		device.startChain()
	}
	req := &request{ccw: ccw, buf: buf, prev: device.sess.flags}
	device.sess.flags = 0

	var err error
	op, ok := opTable[ccw.Code]
	if ok {
		req.op = op
		debug.DebugDevf(device.addr, device.debugMsk, debugCmd, "%s cmd=%02x count=%d", op.name, ccw.Code, len(buf))
		err = device.guard(req)
		if err == nil {
			err = op.fn(device, req)
		}
		if err == nil {
			err = device.domainEnd(req)
		}
	} else {
		debug.DebugDevf(device.addr, device.debugMsk, debugCmd, "invalid cmd=%02x", ccw.Code)
		err = cmdReject(msgInvalidCmd)
	}

	status := uint8(dev.CStatusChnEnd | dev.CStatusDevEnd)
	if err == nil && ccw.Flags&ccwCC == 0 {
		err = device.endChain()
	}
	if err != nil {
		status |= device.unitCheck(err)
		req.more = false
		// Sense reports the first error, a failed write back is only logged.
		if ferr := device.endChain(); ferr != nil {
			slog.Error("Track write lost after unit check", "device", fmt.Sprintf("%03x", device.addr),
				"error", ferr)
		}
	} else {
		status |= req.status
	}
	if req.count > 0 && device.debugMsk&debugData != 0 {
		var str strings.Builder
		hex.FormatBytes(&str, true, req.buf[:min(req.count, 64)])
		debug.DebugDevf(device.addr, device.debugMsk, debugData, "data %s", str.String())
	}
	return status, len(buf) - req.count, req.more
}

// Reset chain latches at start of channel program.
func (device *ModelCKDctx) startChain() {
	device.sess = session{}
	device.orient = orientNone
	device.index = false
}

// Convert error to sense data, returns unit status to add.
func (device *ModelCKDctx) unitCheck(err error) uint8 {
	var se *senseError
	if !errors.As(err, &se) {
		se = equipCheck(err)
	}
	device.buildSense(se)
	debug.DebugDevf(device.addr, device.debugMsk, debugCmd, "unit check %v", se)
	device.sess.lrCount = 0
	return dev.CStatusCheck
}

// Checks applied before any command runs.
func (device *ModelCKDctx) guard(req *request) error {
	code := req.ccw.Code
	op := req.op
	s := &device.sess

	if len(s.ssd) != 0 && code != cmdRSSD {
		s.ssd = nil
		return cmdReject(msgInvalidSeq)
	}
	if op.fam == famSense {
		return nil
	}
	if device.image == nil {
		return intervention()
	}
	if s.lrCount > 0 && !device.domainAllows(code, op) {
		return cmdReject(msgInvalidSeq)
	}
	switch op.fam {
	case famRead, famWrite, famSearch:
		if device.strict && !s.seeked && code != cmdReadIPL {
			return cmdReject(msgInvalidSeq)
		}
		if code != cmdReadIPL && !device.inExtent(device.cyl, device.head) {
			return fileProtect()
		}
	}
	if op.fam == famWrite {
		if device.readOnly {
			return writeInhibit()
		}
		if !device.writeAllowed(code) {
			return fileProtect()
		}
	}
	return nil
}

// Count down open domain and check it is complete at end of chain.
func (device *ModelCKDctx) domainEnd(req *request) error {
	s := &device.sess
	if s.lrCount == 0 {
		return nil
	}
	if device.domainQualifies(req.ccw.Code, req.ccw.Flags, req.op) {
		s.lrCount--
	}
	if s.lrCount > 0 && req.ccw.Flags&ccwCC == 0 &&
		req.ccw.Code != cmdReadIPL && req.ccw.PrevCode != cmdReadIPL {
		return cmdReject(msgInvalidSeq)
	}
	return nil
}

// Check write sequencing when no domain is open.
func (device *ModelCKDctx) writeSequence(req *request, want uint8) error {
	if device.sess.lrCount > 0 || req.prev&want != 0 {
		return nil
	}
	return cmdReject(msgInvalidSeq)
}
