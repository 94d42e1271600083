/*
 * S370 - CKD disk drive test cases.
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
	"path/filepath"
	"testing"

	"github.com/rcornwell/S370dasd/emu/cache"
	dev "github.com/rcornwell/S370dasd/emu/device"
	"github.com/rcornwell/S370dasd/emu/geometry"
	"github.com/rcornwell/S370dasd/util/ckdimage"
)

const (
	statusOK    = dev.CStatusChnEnd | dev.CStatusDevEnd
	statusCheck = statusOK | dev.CStatusCheck
	statusSMS   = statusOK | dev.CStatusSMS
)

// Record placed on a test track.
type testRec struct {
	c    ckdimage.Count
	fill byte // Key is fill, data is fill+1
}

// Create formatted image.
func createImage(t *testing.T, model string, cyls int) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "test.ckd")
	if err := ckdimage.Create(name, geometry.Lookup(model), cyls, "TEST01"); err != nil {
		t.Fatal(err)
	}
	return name
}

// Write records on a track of an image.
func putTrack(t *testing.T, name string, cyl, head int, recs ...testRec) {
	t.Helper()
	img, err := ckdimage.Open(name, false)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()
	buf := make([]byte, img.TrackSize())
	pos := ckdimage.FormatTrack(buf, cyl, head)
	for _, r := range recs {
		key := bytes.Repeat([]byte{r.fill}, int(r.c.KeyLen))
		data := bytes.Repeat([]byte{r.fill + 1}, int(r.c.DataLen))
		pos = ckdimage.AppendRecord(buf, pos, r.c, key, data)
	}
	if _, err = img.WriteTrack(cyl*img.Heads()+head, 0, buf); err != nil {
		t.Fatal(err)
	}
}

// Read track from image file.
func getTrack(t *testing.T, name string, cyl, head int) []byte {
	t.Helper()
	img, err := ckdimage.Open(name, true)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()
	buf := make([]byte, img.TrackSize())
	if err = img.ReadTrack(cyl*img.Heads()+head, buf); err != nil {
		t.Fatal(err)
	}
	return buf
}

// Offset of record on track buffer, -1 if not found.
func findRecord(buf []byte, rec uint8) int {
	pos := geometry.HASize
	for !ckdimage.IsEOT(buf[pos:]) {
		c := ckdimage.GetCount(buf[pos:])
		if c.Rec == rec {
			return pos
		}
		pos += c.Size()
	}
	return -1
}

// Build device not attached to any file.
func bareDevice(t *testing.T, model string, addr uint16) *ModelCKDctx {
	t.Helper()
	device, err := newDevice(model, addr)
	if err != nil {
		t.Fatal(err)
	}
	device.cache = cache.New(8)
	return device
}

// Build device attached to image.
func attachDevice(t *testing.T, device *ModelCKDctx, name string) {
	t.Helper()
	if err := device.attach(name); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = device.Detach() })
}

func testDevice(t *testing.T, model string, cyls int, addr uint16) (*ModelCKDctx, string) {
	t.Helper()
	name := createImage(t, model, cyls)
	device := bareDevice(t, model, addr)
	attachDevice(t, device, name)
	return device, name
}

// Channel program under test.
type chain struct {
	t      *testing.T
	device *ModelCKDctx
	prev   uint8
	seq    int
}

func newChain(t *testing.T, device *ModelCKDctx) *chain {
	return &chain{t: t, device: device}
}

// Execute one CCW, cc chains to next command.
func (c *chain) run(code uint8, buf []byte, cc bool) (uint8, int, bool) {
	ccw := &dev.CCW{Code: code, Count: len(buf), Seq: c.seq}
	if c.seq > 0 {
		ccw.Chained = dev.FlagCC
		ccw.PrevCode = c.prev
	}
	if cc {
		ccw.Flags = dev.FlagCC
	}
	status, residual, more := c.device.ExecuteCCW(ccw, buf)
	c.prev = code
	c.seq++
	if !cc || status&dev.CStatusCheck != 0 {
		c.seq = 0
	}
	return status, residual, more
}

// Execute CCW that must complete normally.
func (c *chain) ok(code uint8, buf []byte, cc bool) int {
	c.t.Helper()
	status, residual, _ := c.run(code, buf, cc)
	if status&dev.CStatusCheck != 0 {
		c.t.Fatalf("command %02x unit check sense %02x %02x", code, c.device.sense[0], c.device.sense[1])
	}
	return residual
}

// Repeat search until status modifier, like a search TIC loop.
func (c *chain) search(code uint8, arg []byte) {
	c.t.Helper()
	for range 20 {
		status, _, _ := c.run(code, arg, true)
		if status&dev.CStatusCheck != 0 {
			c.t.Fatalf("search %02x unit check sense %02x %02x", code, c.device.sense[0], c.device.sense[1])
		}
		if status&dev.CStatusSMS != 0 {
			return
		}
	}
	c.t.Fatalf("search %02x never satisfied", code)
}

// Execute CCW that must end in unit check, returns sense.
func (c *chain) check(code uint8, buf []byte, cc bool) []byte {
	c.t.Helper()
	status, _, _ := c.run(code, buf, cc)
	if status != statusCheck {
		c.t.Fatalf("command %02x status %02x expected unit check", code, status)
	}
	return readSense(c.t, c.device)
}

// Read sense bytes in new chain.
func readSense(t *testing.T, device *ModelCKDctx) []byte {
	t.Helper()
	buf := make([]byte, 32)
	status, residual, _ := device.ExecuteCCW(&dev.CCW{Code: cmdSense, Count: 32}, buf)
	if status != statusOK {
		t.Fatalf("sense status %02x", status)
	}
	return buf[:32-residual]
}

func seekArg(cyl, head int) []byte {
	return []byte{0, 0, byte(cyl >> 8), byte(cyl), byte(head >> 8), byte(head)}
}

func idArg(cyl, head int, rec uint8) []byte {
	return []byte{byte(cyl >> 8), byte(cyl), byte(head >> 8), byte(head), rec}
}

func countArg(cyl, head int, rec, kl uint8, dl uint16) []byte {
	buf := make([]byte, geometry.CountSize)
	ckdimage.PutCount(buf, ckdimage.Count{Cyl: uint16(cyl), Head: uint16(head), Rec: rec, KeyLen: kl, DataLen: dl})
	return buf
}

func rec(cyl, head int, r, kl uint8, dl uint16, fill byte) testRec {
	return testRec{c: ckdimage.Count{Cyl: uint16(cyl), Head: uint16(head), Rec: r, KeyLen: kl, DataLen: dl}, fill: fill}
}

func TestReadIPL(t *testing.T) {
	device, _ := testDevice(t, "3330", 10, 0x190)
	buf := make([]byte, 24)
	status, residual, more := newChain(t, device).run(cmdReadIPL, buf, false)
	if status != statusOK || residual != 0 || more {
		t.Fatalf("read ipl status %02x residual %d more %v", status, residual, more)
	}
	if buf[1] != 0x06 || buf[8] != 0x06 {
		t.Errorf("ipl record wrong: % x", buf)
	}
	if device.slot != -1 {
		t.Error("slot not released at end of chain")
	}
}

func TestSearchRead(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 4, 20, 0x10), rec(1, 0, 2, 4, 30, 0x20), rec(1, 0, 3, 0, 10, 0x30))

	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(1, 0), true)
	c.search(cmdSrchIDEq, idArg(1, 0, 2))
	buf := make([]byte, 40)
	residual := c.ok(cmdReadData, buf, false)
	if residual != 10 {
		t.Errorf("residual wrong got: %d", residual)
	}
	if !bytes.Equal(buf[:30], bytes.Repeat([]byte{0x21}, 30)) {
		t.Errorf("data wrong got: % x", buf[:30])
	}

	// Short read reports more data.
	c.ok(cmdSeek, seekArg(1, 0), true)
	c.search(cmdSrchIDEq, idArg(1, 0, 1))
	status, residual, more := c.run(cmdReadKD, make([]byte, 10), false)
	if status != statusOK || residual != 0 || !more {
		t.Errorf("short read status %02x residual %d more %v", status, residual, more)
	}
}

func TestSearchKey(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 20, 0x10), rec(1, 0, 2, 4, 30, 0x20), rec(1, 0, 3, 4, 10, 0x30))

	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(1, 0), true)
	c.search(cmdSrchKeyEq, []byte{0x30, 0x30, 0x30, 0x30})
	buf := make([]byte, 10)
	c.ok(cmdReadData, buf, false)
	if buf[0] != 0x31 {
		t.Errorf("wrong record read: % x", buf)
	}
}

func TestNoRecordFound(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 20, 0x10), rec(1, 0, 2, 0, 20, 0x20))

	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(1, 0), true)
	for range 20 {
		status, _, _ := c.run(cmdSrchIDEq, idArg(1, 0, 9), true)
		if status&dev.CStatusCheck != 0 {
			sense := readSense(t, device)
			if sense[1] != sense1NRF {
				t.Errorf("sense wrong got: % x", sense)
			}
			return
		}
	}
	t.Error("search never ended")
}

func TestWriteData(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 4, 20, 0x10), rec(1, 0, 2, 4, 30, 0x20))

	// Write data without search is out of sequence.
	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(1, 0), true)
	sense := c.check(cmdWriteData, make([]byte, 30), false)
	if sense[0] != dev.SenseCMDREJ || sense[7] != msgInvalidSeq {
		t.Errorf("sense wrong got: % x", sense)
	}

	c.ok(cmdSeek, seekArg(1, 0), true)
	c.search(cmdSrchIDEq, idArg(1, 0, 2))
	c.ok(cmdWriteData, bytes.Repeat([]byte{0x55}, 20), false)

	trk := getTrack(t, name, 1, 0)
	pos := findRecord(trk, 2)
	if pos < 0 {
		t.Fatal("record 2 missing")
	}
	data := trk[pos+geometry.CountSize+4 : pos+geometry.CountSize+4+30]
	if !bytes.Equal(data[:20], bytes.Repeat([]byte{0x55}, 20)) {
		t.Errorf("data not written: % x", data)
	}
	if !bytes.Equal(data[20:], make([]byte, 10)) {
		t.Errorf("data not padded: % x", data)
	}

	buf := make([]byte, 30)
	c.ok(cmdSeek, seekArg(1, 0), true)
	c.search(cmdSrchIDEq, idArg(1, 0, 2))
	c.ok(cmdReadData, buf, false)
	if !bytes.Equal(buf, data) {
		t.Errorf("read back wrong: % x", buf)
	}
}

// Only marked bytes reach the image.
func TestFlushRange(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)
	if err := device.seekTrack(1, 0); err != nil {
		t.Fatal(err)
	}
	device.buf[400] = 0xaa
	if err := device.writeBytes(300, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := device.writeBytes(100, []byte{9}); err != nil {
		t.Fatal(err)
	}
	if device.dirtyLo != 100 || device.dirtyHi != 303 {
		t.Errorf("dirty range wrong got: %d %d", device.dirtyLo, device.dirtyHi)
	}
	if err := device.endChain(); err != nil {
		t.Fatal(err)
	}
	trk := getTrack(t, name, 1, 0)
	if trk[100] != 9 || trk[300] != 1 || trk[302] != 3 {
		t.Error("marked bytes not written")
	}
	if trk[400] != 0 {
		t.Error("unmarked byte written")
	}
}

// Bad home address on load is an equipment check and leaves nothing cached.
func TestHomeAddressMismatch(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)
	img, err := ckdimage.Open(name, false)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, img.TrackSize())
	ckdimage.FormatTrack(buf, 2, 3)
	if _, err = img.WriteTrack(device.track(1, 0), 0, buf); err != nil {
		t.Fatal(err)
	}
	_ = img.Close()

	if err = device.seekTrack(1, 0); !errors.Is(err, ckdimage.ErrHomeAddr) {
		t.Errorf("seek error wrong got: %v", err)
	}
	sense := newChain(t, device).check(cmdSeek, seekArg(1, 0), false)
	if sense[0]&dev.SenseEQUCHK == 0 || sense[7]>>4 != format1 {
		t.Errorf("sense wrong got: % x", sense)
	}
	if device.curTrk != -1 || device.slot != -1 {
		t.Errorf("track still current: %d slot %d", device.curTrk, device.slot)
	}

	// Repaired track is read again from the image.
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 8, 0x70))
	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(1, 0), true)
	data := make([]byte, 8)
	c.ok(cmdReadData, data, false)
	if data[0] != 0x71 {
		t.Errorf("data wrong got: % x", data)
	}
}

// Dirty track that cannot be written gives up its slot.
func TestFlushFailure(t *testing.T) {
	device, _ := testDevice(t, "3330", 10, 0x190)
	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(0, 0), true)
	c.search(cmdSrchIDEq, idArg(0, 0, 1))
	c.ok(cmdWriteData, make([]byte, 24), true)
	_ = device.image.Close()

	sense := c.check(cmdSeek, seekArg(1, 0), false)
	if sense[0]&dev.SenseEQUCHK == 0 || sense[7]>>4 != format1 {
		t.Errorf("sense wrong got: % x", sense)
	}
	if device.curTrk != -1 || device.slot != -1 || device.dirtyHi != 0 {
		t.Errorf("track still current: %d slot %d dirty %d", device.curTrk, device.slot, device.dirtyHi)
	}

	// Command reject keeps its sense when the write back fails.
	device, _ = testDevice(t, "3330", 10, 0x191)
	c = newChain(t, device)
	c.ok(cmdSeek, seekArg(0, 0), true)
	c.search(cmdSrchIDEq, idArg(0, 0, 1))
	c.ok(cmdWriteData, make([]byte, 24), true)
	_ = device.image.Close()

	sense = c.check(0xff, nil, false)
	if sense[0] != dev.SenseCMDREJ || sense[7] != msgInvalidCmd {
		t.Errorf("sense wrong got: % x", sense)
	}
	if device.curTrk != -1 || device.slot != -1 {
		t.Errorf("track still current: %d slot %d", device.curTrk, device.slot)
	}
}

// Record one directly after home address once record zero is gone.
func TestNoRecordZero(t *testing.T) {
	device, name := testDevice(t, "3390", 3, 0x190)
	c := newChain(t, device)
	c.ok(cmdSetMask, []byte{maskAllowAll}, true)
	c.ok(cmdSeek, seekArg(2, 0), true)
	c.ok(cmdWriteHA, []byte{0, 0, 2, 0, 0}, true)
	c.ok(cmdWriteCKD, append(countArg(2, 0, 1, 0, 16), bytes.Repeat([]byte{0x42}, 16)...), false)

	if pos := findRecord(getTrack(t, name, 2, 0), 1); pos != geometry.HASize {
		t.Fatalf("record 1 at %d", pos)
	}

	buf := make([]byte, 16)
	c.ok(cmdSeek, seekArg(2, 0), true)
	c.ok(cmdReadData, buf, false)
	if !bytes.Equal(buf, bytes.Repeat([]byte{0x42}, 16)) {
		t.Errorf("data wrong got: % x", buf)
	}

	count := make([]byte, geometry.CountSize)
	c.ok(cmdSeek, seekArg(2, 0), true)
	c.ok(cmdReadCount, count, false)
	if !bytes.Equal(count, countArg(2, 0, 1, 0, 16)) {
		t.Errorf("count wrong got: % x", count)
	}
}

func TestFormatTrack(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)

	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(2, 0), true)
	c.search(cmdSrchHAEq, []byte{0, 2, 0, 0})
	sense := c.check(cmdWriteR0, append(countArg(2, 0, 0, 0, 8), make([]byte, 8)...), false)
	if sense[1] != sense1FP {
		t.Errorf("write R0 without mask sense got: % x", sense)
	}

	c.ok(cmdSeek, seekArg(2, 0), true)
	c.ok(cmdSetMask, []byte{maskAllowAll}, true)
	c.search(cmdSrchHAEq, []byte{0, 2, 0, 0})
	c.ok(cmdWriteR0, append(countArg(2, 0, 0, 0, 8), make([]byte, 8)...), true)
	c.ok(cmdWriteCKD, append(countArg(2, 0, 1, 0, 100), bytes.Repeat([]byte{1}, 100)...), true)
	key := []byte{0xc1, 0xc2, 0xc3, 0xc4}
	c.ok(cmdWriteCKD, append(append(countArg(2, 0, 2, 4, 50), key...), bytes.Repeat([]byte{2}, 50)...), false)

	c.ok(cmdSeek, seekArg(2, 0), true)
	cnt := make([]byte, 8)
	c.ok(cmdReadCount, cnt, true)
	if !bytes.Equal(cnt, countArg(2, 0, 1, 0, 100)) {
		t.Errorf("record 1 count wrong: % x", cnt)
	}
	c.ok(cmdReadCount, cnt, false)
	if !bytes.Equal(cnt, countArg(2, 0, 2, 4, 50)) {
		t.Errorf("record 2 count wrong: % x", cnt)
	}

	trk := getTrack(t, name, 2, 0)
	pos := findRecord(trk, 2)
	if pos < 0 || !bytes.Equal(trk[pos+8:pos+12], key) {
		t.Error("key not written to image")
	}
	if !ckdimage.IsEOT(trk[pos+8+4+50:]) {
		t.Error("end of track missing after last record")
	}
}

func TestTrackFull(t *testing.T) {
	device, _ := testDevice(t, "3330", 10, 0x190)
	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(3, 0), true)
	c.ok(cmdSetMask, []byte{maskAllowAll}, true)
	c.search(cmdSrchHAEq, []byte{0, 3, 0, 0})
	c.ok(cmdWriteR0, append(countArg(3, 0, 0, 0, 8), make([]byte, 8)...), true)
	c.ok(cmdWriteCKD, append(countArg(3, 0, 1, 0, 13000), make([]byte, 13000)...), true)
	sense := c.check(cmdWriteCKD, append(countArg(3, 0, 2, 0, 1000), make([]byte, 1000)...), false)
	if sense[1] != sense1ITF {
		t.Errorf("sense wrong got: % x", sense)
	}
}

func TestMultiTrackSearch(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)
	putTrack(t, name, 4, 0, rec(4, 0, 1, 0, 10, 0x40))
	putTrack(t, name, 4, 1, rec(4, 1, 1, 0, 10, 0x60))

	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(4, 0), true)
	c.search(cmdSrchIDEq|cmdMT, idArg(4, 1, 1))
	buf := make([]byte, 10)
	c.ok(cmdReadData, buf, false)
	if buf[0] != 0x61 || device.head != 1 {
		t.Errorf("wrong record read: % x head %d", buf, device.head)
	}

	// Last head ends at end of cylinder.
	c.ok(cmdSeek, seekArg(4, 18), true)
	for range 5 {
		status, _, _ := c.run(cmdSrchIDEq|cmdMT, idArg(9, 9, 9), true)
		if status&dev.CStatusCheck != 0 {
			sense := readSense(t, device)
			if sense[1] != sense1EOC {
				t.Errorf("sense wrong got: % x", sense)
			}
			return
		}
	}
	t.Error("end of cylinder not reported")
}

func TestOverflowRecord(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)
	putTrack(t, name, 5, 0, rec(5|overflowBit, 0, 1, 0, 50, 0x70))
	putTrack(t, name, 5, 1, rec(5, 1, 1, 0, 30, 0x80))

	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(5, 0), true)
	c.search(cmdSrchIDEq, idArg(5, 0, 1))
	buf := make([]byte, 100)
	residual := c.ok(cmdReadData, buf, false)
	if residual != 20 {
		t.Errorf("residual wrong got: %d", residual)
	}
	if buf[0] != 0x71 || buf[49] != 0x71 || buf[50] != 0x81 || buf[79] != 0x81 {
		t.Errorf("overflow data wrong: % x", buf[:80])
	}
}

func TestDefineExtent(t *testing.T) {
	device, name := testDevice(t, "3390", 3, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 40, 0x40))

	// Begin after end.
	c := newChain(t, device)
	sense := c.check(cmdDefExt, extentArg(0, 2, 0, 1, 0), false)
	if sense[0] != dev.SenseCMDREJ || sense[7] != msgInvalidParm {
		t.Errorf("sense wrong got: % x", sense)
	}

	// Failure leaves no extent behind.
	c.run(cmdDefExt, extentArg(maskRESV, 0, 0, 2, 14), true)
	if device.sess.dx {
		t.Error("rejected extent was installed")
	}

	// Second extent in chain.
	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	sense = c.check(cmdDefExt, extentArg(0, 0, 0, 2, 14), false)
	if sense[7] != msgInvalidSeq {
		t.Errorf("sense wrong got: % x", sense)
	}

	// Seek outside extent.
	c.ok(cmdDefExt, extentArg(0, 0, 0, 0, 14), true)
	sense = c.check(cmdSeek, seekArg(1, 0), false)
	if sense[1] != sense1FP {
		t.Errorf("sense wrong got: % x", sense)
	}

	// Writes inhibited by mask.
	c.ok(cmdDefExt, extentArg(maskInhWrite, 0, 0, 2, 14), true)
	c.ok(cmdSeek, seekArg(1, 0), true)
	c.search(cmdSrchIDEq, idArg(1, 0, 1))
	sense = c.check(cmdWriteData, make([]byte, 40), false)
	if sense[1] != sense1FP {
		t.Errorf("sense wrong got: % x", sense)
	}

	// Legacy drives have no define extent.
	old, _ := testDevice(t, "2314", 2, 0x191)
	status, _, _ := newChain(t, old).run(cmdDefExt, extentArg(0, 0, 0, 0, 1), false)
	if status != statusCheck {
		t.Errorf("2314 define extent status %02x", status)
	}
}

func extentArg(mask uint8, bcyl, bhead, ecyl, ehead int) []byte {
	buf := make([]byte, 32)
	buf[0] = mask
	buf[1] = gattrECKD
	buf[8], buf[9] = byte(bcyl>>8), byte(bcyl)
	buf[10], buf[11] = byte(bhead>>8), byte(bhead)
	buf[12], buf[13] = byte(ecyl>>8), byte(ecyl)
	buf[14], buf[15] = byte(ehead>>8), byte(ehead)
	return buf
}

func locateArg(op, aux, count uint8, cyl, head int, r uint8, tlf int) []byte {
	buf := make([]byte, lrLength)
	buf[0] = op
	buf[1] = aux
	buf[3] = count
	copy(buf[4:8], seekArg(cyl, head)[2:])
	copy(buf[8:13], idArg(cyl, head, r))
	buf[14], buf[15] = byte(tlf>>8), byte(tlf)
	return buf
}

func TestLocateDomain(t *testing.T) {
	device, name := testDevice(t, "3390", 3, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 40, 0x40), rec(1, 0, 2, 0, 40, 0x50), rec(1, 0, 3, 0, 40, 0x60))

	c := newChain(t, device)
	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	c.ok(cmdLocate, locateArg(lrReadData, 0, 2, 1, 0, 1, 0), true)
	buf := make([]byte, 40)
	c.ok(cmdReadData, buf, true)
	if buf[0] != 0x41 {
		t.Errorf("first record wrong: % x", buf[:4])
	}
	c.ok(cmdReadData, buf, false)
	if buf[0] != 0x51 {
		t.Errorf("second record wrong: % x", buf[:4])
	}

	// Domain not complete at end of chain.
	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	c.ok(cmdLocate, locateArg(lrReadData, 0, 2, 1, 0, 1, 0), true)
	sense := c.check(cmdReadData, buf, false)
	if sense[0] != dev.SenseCMDREJ || sense[7] != msgInvalidSeq || sense[3] != 1 {
		t.Errorf("sense wrong got: % x", sense)
	}

	// Write not permitted in read domain.
	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	c.ok(cmdLocate, locateArg(lrReadData, 0, 1, 1, 0, 1, 0), true)
	sense = c.check(cmdWriteData, buf, false)
	if sense[0] != dev.SenseCMDREJ {
		t.Errorf("sense wrong got: % x", sense)
	}

	// Locate needs define extent.
	sense = newChain(t, device).check(cmdLocate, locateArg(lrReadData, 0, 1, 1, 0, 1, 0), false)
	if sense[7] != msgInvalidSeq {
		t.Errorf("sense wrong got: % x", sense)
	}

	// Search record not on track.
	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	sense = c.check(cmdLocate, locateArg(lrReadData, 0, 1, 1, 0, 7, 0), false)
	if sense[1] != sense1NRF {
		t.Errorf("sense wrong got: % x", sense)
	}

	// Locate outside extent leaves position alone.
	c.ok(cmdSeek, seekArg(1, 1), false)
	c.ok(cmdDefExt, extentArg(0, 0, 0, 0, 14), true)
	sense = c.check(cmdLocate, locateArg(lrReadData, 0, 1, 2, 0, 1, 0), false)
	if sense[1] != sense1FP {
		t.Errorf("sense wrong got: % x", sense)
	}
	if device.cyl != 1 || device.head != 1 {
		t.Errorf("position moved to %d/%d", device.cyl, device.head)
	}

	// Operation and orientation not legal together.
	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	sense = c.check(cmdLocate, locateArg(lrOrientHA|lrWriteData, 0, 1, 1, 0, 1, 0), false)
	if sense[7] != msgInvalidParm {
		t.Errorf("sense wrong got: % x", sense)
	}
}

func TestReadCountSuffix(t *testing.T) {
	device, name := testDevice(t, "3390", 3, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 40, 0x40), rec(1, 0, 2, 0, 40, 0x50))

	c := newChain(t, device)
	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	c.ok(cmdLocate, locateArg(lrReadData, lrAuxReadCnt, 2, 1, 0, 1, 0), true)
	c.ok(cmdReadData, make([]byte, 40), true)
	cnt := make([]byte, 8)
	c.ok(cmdReadCount, cnt, false)
	if cnt[4] != 2 {
		t.Errorf("count wrong got: % x", cnt)
	}
}

func TestLocateWriteTLF(t *testing.T) {
	device, name := testDevice(t, "3390", 3, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 40, 0x40))

	c := newChain(t, device)
	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	c.ok(cmdLocate, locateArg(lrWriteData, lrAuxTLF, 1, 1, 0, 1, 80), true)
	sense := c.check(cmdWriteData, make([]byte, 40), false)
	if sense[1] != sense1ITF {
		t.Errorf("sense wrong got: % x", sense)
	}

	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	c.ok(cmdLocate, locateArg(lrWriteData, lrAuxTLF, 1, 1, 0, 1, 40), true)
	c.ok(cmdWriteData, bytes.Repeat([]byte{0x77}, 40), false)
	trk := getTrack(t, name, 1, 0)
	pos := findRecord(trk, 1)
	if trk[pos+geometry.CountSize] != 0x77 {
		t.Error("data not written")
	}
}

func TestReadTracks(t *testing.T) {
	device, name := testDevice(t, "3390", 3, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 40, 0x40))
	putTrack(t, name, 1, 1, rec(1, 1, 1, 0, 10, 0x50), rec(1, 1, 2, 0, 10, 0x60))

	c := newChain(t, device)
	c.ok(cmdDefExt, extentArg(0, 0, 0, 2, 14), true)
	c.ok(cmdLocate, locateArg(lrOrientIndex|lrReadTracks, 0, 2, 1, 0, 0, 0), true)
	buf := make([]byte, 200)
	residual := c.ok(cmdReadTrack, buf, true)
	if residual != 200-(16+48) {
		t.Errorf("first track residual got: %d", residual)
	}
	if buf[4] != 0 || buf[16+4] != 1 {
		t.Errorf("first track wrong: % x", buf[:24])
	}
	residual = c.ok(cmdReadTrack, buf, false)
	if residual != 200-(16+18+18) {
		t.Errorf("second track residual got: %d", residual)
	}
	if buf[3] != 1 || buf[16+18+4] != 2 {
		t.Errorf("second track wrong: % x", buf[:52])
	}
}

func TestSenseLayout(t *testing.T) {
	cases := []struct {
		model  string
		cyls   int
		addr   uint16
		length int
		drive  byte
	}{
		{"2314", 2, 0x193, 6, 0x10},
		{"3330", 2, 0x195, 24, 5},
		{"3380", 2, 0x19c, 24, 0x0c},
		{"3390", 2, 0x19c, 32, 0x0c},
	}
	for _, tc := range cases {
		device, _ := testDevice(t, tc.model, tc.cyls, tc.addr)
		sense := newChain(t, device).check(0xff, make([]byte, 4), false)
		if len(sense) != tc.length {
			t.Errorf("%s sense length got: %d", tc.model, len(sense))
			continue
		}
		if sense[0] != dev.SenseCMDREJ || sense[4] != tc.drive {
			t.Errorf("%s sense wrong got: % x", tc.model, sense)
		}
		if tc.length > 6 && sense[7] != msgInvalidCmd {
			t.Errorf("%s sense message got: %02x", tc.model, sense[7])
		}
		// Sense is reset once read.
		if again := readSense(t, device); again[0] != 0 {
			t.Errorf("%s sense not reset: % x", tc.model, again)
		}
	}
}

func TestSenseIDRDC(t *testing.T) {
	device, _ := testDevice(t, "3390", 2, 0x190)
	buf := make([]byte, 7)
	newChain(t, device).ok(cmdSenseID, buf, false)
	if !bytes.Equal(buf, []byte{0xff, 0x39, 0x90, 0xec, 0x33, 0x90, 0x02}) {
		t.Errorf("sense id wrong got: % x", buf)
	}
	rdc := make([]byte, 64)
	newChain(t, device).ok(cmdRDC, rdc, false)
	if rdc[7] != 0x33 || rdc[8] != 0x90 || rdc[19] != 15 {
		t.Errorf("device characteristics wrong got: % x", rdc[:24])
	}

	old, _ := testDevice(t, "2314", 2, 0x191)
	newChain(t, old).check(cmdSenseID, buf, false)
}

func TestNotAttached(t *testing.T) {
	device := bareDevice(t, "3330", 0x190)
	sense := newChain(t, device).check(cmdReadData, make([]byte, 10), false)
	if sense[0] != dev.SenseINTVENT {
		t.Errorf("sense wrong got: % x", sense)
	}
}

func TestReadOnly(t *testing.T) {
	name := createImage(t, "3330", 10)
	device := bareDevice(t, "3330", 0x190)
	device.readOnly = true
	attachDevice(t, device, name)

	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(0, 0), true)
	c.search(cmdSrchIDEq, idArg(0, 0, 1))
	sense := c.check(cmdWriteData, make([]byte, 24), false)
	if sense[0] != dev.SenseCMDREJ || sense[1] != sense1WRI {
		t.Errorf("sense wrong got: % x", sense)
	}
}

func TestStrict(t *testing.T) {
	device, _ := testDevice(t, "3330", 10, 0x190)
	device.strict = true
	sense := newChain(t, device).check(cmdReadData, make([]byte, 10), false)
	if sense[7] != msgInvalidSeq {
		t.Errorf("sense wrong got: % x", sense)
	}
}

func TestSuspendResume(t *testing.T) {
	device, name := testDevice(t, "3330", 10, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 20, 0x10), rec(1, 0, 2, 0, 30, 0x20))

	c := newChain(t, device)
	c.ok(cmdSeek, seekArg(1, 0), true)
	c.search(cmdSrchIDEq, idArg(1, 0, 2))
	state, err := device.Suspend()
	if err != nil {
		t.Fatal(err)
	}
	device.InitDev()
	if device.orient != orientNone {
		t.Fatal("initialize did not reset orientation")
	}
	if err = device.Resume(state); err != nil {
		t.Fatal(err)
	}
	if device.orient != orientCount || device.count.Rec != 2 || device.cyl != 1 {
		t.Errorf("position not restored: %s rec %d cyl %d", device.orient, device.count.Rec, device.cyl)
	}
	if !device.sess.seeked || device.sess.flags&flIDEQ == 0 {
		t.Error("chain latches not restored")
	}
	buf := make([]byte, 30)
	c.ok(cmdReadData, buf, false)
	if buf[0] != 0x21 {
		t.Errorf("wrong record after resume: % x", buf)
	}

	if err = device.Resume([]byte{0, 1, 0}); err == nil {
		t.Error("truncated state accepted")
	}
	if err = device.Resume([]byte{0, 99, 0, 0}); err == nil {
		t.Error("unknown tag accepted")
	}
}

func TestSubsystemData(t *testing.T) {
	device, _ := testDevice(t, "3390", 2, 0x190)

	c := newChain(t, device)
	psf := make([]byte, 12)
	psf[0] = psfPrepRSSD
	psf[6] = rssdNED
	c.ok(cmdPSF, psf, true)
	buf := make([]byte, 96)
	c.ok(cmdRSSD, buf, false)
	if buf[0] != 0xc4 || buf[4] != 0xf0 || buf[6] != 0xf3 {
		t.Errorf("node descriptor wrong got: % x", buf[:16])
	}

	sense := newChain(t, device).check(cmdRSSD, buf, false)
	if sense[7] != msgInvalidSeq {
		t.Errorf("sense wrong got: % x", sense)
	}

	c.ok(cmdPSF, psf, true)
	c.check(cmdSeek, seekArg(0, 0), false)
}

func TestPrefix(t *testing.T) {
	device, name := testDevice(t, "3390", 3, 0x190)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 40, 0x40))

	pfx := make([]byte, pfxLength)
	pfx[0] = pfxDXLRE
	pfx[1] = pfxValidDX
	copy(pfx[pfxDXOff:], extentArg(0, 0, 0, 2, 14))
	copy(pfx[pfxLREOff:], locateArg(lrReadData, 0, 1, 1, 0, 1, 0))

	c := newChain(t, device)
	c.ok(cmdPrefix, pfx, true)
	buf := make([]byte, 40)
	c.ok(cmdReadData, buf, false)
	if buf[0] != 0x41 {
		t.Errorf("data wrong got: % x", buf[:4])
	}

	// Prefix must be first in chain.
	c.ok(cmdNOP, nil, true)
	sense := c.check(cmdPrefix, pfx, false)
	if sense[7] != msgInvalidSeq {
		t.Errorf("sense wrong got: % x", sense)
	}
}

func TestSharedImage(t *testing.T) {
	name := createImage(t, "3330", 10)
	putTrack(t, name, 1, 0, rec(1, 0, 1, 0, 20, 0x10))
	shared := cache.New(8)
	devA := bareDevice(t, "3330", 0x190)
	devB := bareDevice(t, "3330", 0x191)
	for _, d := range []*ModelCKDctx{devA, devB} {
		d.cache = shared
		d.shared = true
		attachDevice(t, d, name)
	}

	read := func() byte {
		c := newChain(t, devA)
		c.ok(cmdSeek, seekArg(1, 0), true)
		c.search(cmdSrchIDEq, idArg(1, 0, 1))
		buf := make([]byte, 20)
		c.ok(cmdReadData, buf, false)
		return buf[0]
	}
	if read() != 0x11 {
		t.Fatal("initial data wrong")
	}

	c := newChain(t, devB)
	c.ok(cmdSeek, seekArg(1, 0), true)
	c.search(cmdSrchIDEq, idArg(1, 0, 1))
	c.ok(cmdWriteData, bytes.Repeat([]byte{0x99}, 20), false)

	if got := read(); got != 0x99 {
		t.Errorf("peer read stale data: %02x", got)
	}

	newChain(t, devB).ok(cmdReserve, make([]byte, 24), false)
	if devA.StartIO() != dev.CStatusBusy {
		t.Error("reserve by peer not seen")
	}
	newChain(t, devB).ok(cmdRelease, make([]byte, 24), false)
	if devA.StartIO() != 0 {
		t.Error("release by peer not seen")
	}
}
