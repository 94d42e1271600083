/*
 * S370 - Channel command word fetch and data transfer.
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
	"errors"
	"strings"

	dev "github.com/rcornwell/S370dasd/emu/device"
	mem "github.com/rcornwell/S370dasd/emu/memory"
	"github.com/rcornwell/S370dasd/util/debug"
	"github.com/rcornwell/S370dasd/util/hex"
)

// One CCW of a command.
type segment struct {
	ccwAddr uint32   // Address of CCW
	addr    uint32   // Data address
	count   int      // Byte count
	flags   uint8    // CCW flags
	idaw    []uint32 // Indirect data addresses
}

// Command with every CCW data chained to it.
type command struct {
	code  uint8      // Command code
	flags uint8      // Flags of last CCW, SLI and PCI from any
	segs  []*segment // Data areas
}

type runner struct {
	devNum     uint16
	cNum       int
	device     dev.Device
	mem        *mem.Memory
	key        uint8  // Storage key from CAW
	caw        uint32 // Address of next CCW
	chanStatus uint8  // Channel status
	debugMsk   int    // Debug options mask
}

func newRunner(devNum uint16, memory *mem.Memory, caw uint32) (*runner, error) {
	device, err := GetDevice(devNum)
	if err != nil {
		return nil, err
	}
	cNum := int((devNum >> 8) & 0xf)
	chanLock.RLock()
	msk := chanUnit[cNum].debugMsk
	chanLock.RUnlock()
	return &runner{
		devNum:   devNum,
		cNum:     cNum,
		device:   device,
		mem:      memory,
		key:      uint8((caw & keyMask) >> 24),
		caw:      caw & addrMask,
		debugMsk: msk,
	}, nil
}

// Total bytes of command.
func (cmd *command) total() int {
	n := 0
	for _, seg := range cmd.segs {
		n += seg.count
	}
	return n
}

// Output commands take data from storage.
func (cmd *command) output() bool {
	return cmd.code&1 != 0
}

// Find CCW where transfer of used bytes ended and its residual count.
func (cmd *command) position(used int) (*segment, int) {
	for _, seg := range cmd.segs {
		if used <= seg.count {
			return seg, seg.count - used
		}
		used -= seg.count
	}
	return cmd.segs[len(cmd.segs)-1], 0
}

// Storage address of byte i of segment.
func (seg *segment) byteAddr(i int, backward bool) uint32 {
	base := seg.addr
	if seg.idaw != nil {
		base = seg.idaw[0]
	}
	if backward {
		return (base - uint32(i)) & addrMask
	}
	if seg.idaw == nil {
		return (base + uint32(i)) & addrMask
	}
	off := uint32(i) + (base & (idaBlock - 1))
	blk := off / idaBlock
	if blk == 0 {
		return base + uint32(i)
	}
	return seg.idaw[blk] + off%idaBlock
}

// Run commands until chaining ends, first is used in place of the first fetch.
func (r *runner) run(first *command) CSW {
	csw := CSW{Key: r.key, Addr: r.caw}
	if first == nil && r.caw&7 != 0 {
		csw.Chan = StatusPCHK
		return csw
	}
	if status := r.device.StartIO(); status != 0 {
		csw.Unit = status
		return csw
	}

	var prevFlags, prevCode uint8
	cmd := first
	for seq := 0; ; seq++ {
		if cmd == nil {
			cmd = r.fetchCommand(prevFlags&dev.FlagCC != 0)
			if cmd == nil {
				csw.Addr = r.caw
				csw.Chan = r.chanStatus
				csw.Count = 0
				return csw
			}
		}

		var buf []byte
		if cmd.output() {
			buf = r.gather(cmd)
			if buf == nil {
				seg := cmd.segs[0]
				csw.Addr = seg.ccwAddr + 8
				csw.Chan = r.chanStatus
				csw.Count = uint16(seg.count)
				return csw
			}
		} else {
			buf = make([]byte, cmd.total())
		}

		ccw := &dev.CCW{
			Code:     cmd.code,
			Flags:    cmd.flags,
			Chained:  prevFlags & dev.FlagCC,
			PrevCode: prevCode,
			Count:    len(buf),
			Seq:      seq,
		}
		status, residual, more := r.device.ExecuteCCW(ccw, buf)
		used := len(buf) - residual
		if !cmd.output() {
			r.scatter(cmd, buf[:used])
		}
		if r.debugMsk&debugData != 0 && used > 0 {
			var str strings.Builder
			hex.FormatBytes(&str, true, buf[:min(used, 64)])
			debug.DebugChanf(r.cNum, r.debugMsk, debugData, "%03x data %s", r.devNum, str.String())
		}

		// Control command that moved no data is immediate, length not checked.
		immediate := used == 0 && cmd.code&3 == dev.CmdCTL
		seg, segResidual := cmd.position(used)
		if (residual != 0 || more) && cmd.flags&dev.FlagSLI == 0 && !immediate {
			r.chanStatus |= StatusLength
		}
		if cmd.flags&dev.FlagPCI != 0 {
			r.chanStatus |= StatusPCI
		}
		csw.Addr = (seg.ccwAddr + 8) & addrMask
		csw.Unit = status
		csw.Chan = r.chanStatus
		csw.Count = uint16(segResidual)
		debug.DebugChanf(r.cNum, r.debugMsk, debugCSW, "%03x cmd %02x status %02x residual %d", r.devNum,
			cmd.code, status, residual)

		if r.chanStatus&errorStatus != 0 || status&unitStop != 0 || cmd.flags&dev.FlagCC == 0 {
			return csw
		}

		// Status modifier skips one CCW.
		if status&dev.CStatusSMS != 0 {
			r.caw = (r.caw + 8) & addrMask
		}
		prevFlags = cmd.flags
		prevCode = cmd.code
		cmd = nil
	}
}

// Fetch next command and any CCWs data chained to it.
func (r *runner) fetchCommand(ticOk bool) *command {
	cmd := &command{}
	for {
		seg, code := r.loadCCW(ticOk)
		if seg == nil {
			return nil
		}
		if len(cmd.segs) == 0 {
			// Check if invalid command
			if code&0xf == 0 {
				r.chanStatus |= StatusPCHK
				return nil
			}
			cmd.code = code
		}
		cmd.segs = append(cmd.segs, seg)
		cmd.flags = seg.flags | (cmd.flags & (dev.FlagSLI | dev.FlagPCI))
		if seg.flags&dev.FlagCD == 0 {
			return cmd
		}
		ticOk = true
	}
}

// Load in the next CCW following any TIC.
func (r *runner) loadCCW(ticOk bool) (*segment, uint8) {
	for {
		// Abort if ccw not on double word boundary
		if r.caw&7 != 0 {
			r.chanStatus |= StatusPCHK
			return nil, 0
		}
		w0, ok := r.fetchWord(r.caw)
		if !ok {
			return nil, 0
		}
		w1, ok := r.fetchWord(r.caw + 4)
		if !ok {
			return nil, 0
		}
		ccwAddr := r.caw
		r.caw = (r.caw + 8) & addrMask
		if r.debugMsk&debugCmd != 0 {
			var str strings.Builder
			hex.FormatWord(&str, []uint32{w0, w1})
			debug.DebugChanf(r.cNum, r.debugMsk, debugCmd, "%03x CCW %06x %s", r.devNum, ccwAddr, str.String())
		}

		code := uint8(w0 >> 24)
		// TIC can't follow TIC nor be first in chain
		if code&0xf == dev.CmdTIC {
			if !ticOk {
				r.chanStatus |= StatusPCHK
				return nil, 0
			}
			ticOk = false
			r.caw = w0 & addrMask
			continue
		}

		seg := &segment{
			ccwAddr: ccwAddr,
			addr:    w0 & addrMask,
			count:   int(w1 & countMask),
			flags:   uint8(w1 >> 24),
		}
		// Check if invalid count
		if seg.count == 0 {
			r.chanStatus |= StatusPCHK
			return nil, 0
		}
		if seg.flags&dev.FlagIDA != 0 && !r.loadIDAW(seg) {
			return nil, 0
		}
		return seg, code
	}
}

// Read indirect data address words covering segment.
func (r *runner) loadIDAW(seg *segment) bool {
	if seg.addr&3 != 0 {
		r.chanStatus |= StatusPCHK
		return false
	}
	left := seg.count
	for i := uint32(0); left > 0; i++ {
		w, ok := r.fetchWord(seg.addr + 4*i)
		if !ok {
			return false
		}
		w &= addrMask
		if i > 0 && w&(idaBlock-1) != 0 {
			r.chanStatus |= StatusPCHK
			return false
		}
		seg.idaw = append(seg.idaw, w)
		left -= int(idaBlock - (w & (idaBlock - 1)))
	}
	return true
}

// Set channel status for storage access failure.
func (r *runner) accessError(err error) {
	if errors.Is(err, mem.ErrAddress) {
		r.chanStatus |= StatusPCHK
	} else {
		r.chanStatus |= StatusProt
	}
}

// Read a full word from memory, false on failure.
func (r *runner) fetchWord(addr uint32) (uint32, bool) {
	if err := r.mem.CheckKey(addr, r.key, false); err != nil {
		r.accessError(err)
		return 0, false
	}
	w, _ := r.mem.GetWord(addr)
	return w, true
}

// Collect output data of command, nil on failure.
func (r *runner) gather(cmd *command) []byte {
	buf := make([]byte, 0, cmd.total())
	for _, seg := range cmd.segs {
		for i := range seg.count {
			addr := seg.byteAddr(i, false)
			if err := r.mem.CheckKey(addr, r.key, false); err != nil {
				r.accessError(err)
				return nil
			}
			b, _ := r.mem.GetByte(addr)
			buf = append(buf, b)
		}
	}
	return buf
}

// Store input data of command.
func (r *runner) scatter(cmd *command, data []byte) {
	backward := cmd.code&0xf == dev.CmdRDBWD
	for _, seg := range cmd.segs {
		if len(data) == 0 {
			return
		}
		n := min(len(data), seg.count)
		if seg.flags&dev.FlagSkip == 0 {
			for i := range n {
				addr := seg.byteAddr(i, backward)
				if err := r.mem.CheckKey(addr, r.key, true); err != nil {
					r.accessError(err)
					return
				}
				r.mem.PutByte(addr, data[i])
			}
		}
		data = data[n:]
	}
}

// Save CSW in low storage.
func (r *runner) storeCSW(csw CSW) {
	if !r.mem.CheckAddr(CSWAddr + 4) {
		return
	}
	w0, w1 := csw.Words()
	r.mem.PutWord(CSWAddr, w0)
	r.mem.PutWord(CSWAddr+4, w1)
	debug.DebugChanf(r.cNum, r.debugMsk, debugCSW, "%03x CSW %s", r.devNum, csw)
}
