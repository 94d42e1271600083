/*
 * S370 - Channel test cases.
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
	"bytes"
	"errors"
	"strings"
	"testing"

	config "github.com/rcornwell/S370dasd/config/configparser"
	dev "github.com/rcornwell/S370dasd/emu/device"
	mem "github.com/rcornwell/S370dasd/emu/memory"
	"github.com/rcornwell/S370dasd/util/debug"
)

const testAddr uint16 = 0x130

// Fresh channel 1 with test device at 130.
func setupChannel(t *testing.T) (*testDev, *mem.Memory) {
	t.Helper()
	InitializeChannels()
	t.Cleanup(InitializeChannels)
	if err := AddChannel(1, TypeSel, 0); err != nil {
		t.Fatal(err)
	}
	d := &testDev{status: map[uint8]uint8{}}
	if err := AddDevice(d, testAddr); err != nil {
		t.Fatal(err)
	}
	return d, mem.New(64)
}

// Store CCW in memory.
func putCCW(m *mem.Memory, addr uint32, code uint8, data uint32, flags uint8, count uint16) {
	m.PutWord(addr, uint32(code)<<24|data)
	m.PutWord(addr+4, uint32(flags)<<24|uint32(count))
}

func startIO(t *testing.T, m *mem.Memory, caw uint32) CSW {
	t.Helper()
	csw, err := StartIO(testAddr, m, caw)
	if err != nil {
		t.Fatal(err)
	}
	return csw
}

func readMem(t *testing.T, m *mem.Memory, addr uint32, n int) []byte {
	t.Helper()
	data, err := m.Read(addr, n)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

const statusEnd = dev.CStatusChnEnd | dev.CStatusDevEnd

func TestRegistry(t *testing.T) {
	d, _ := setupChannel(t)
	if err := AddDevice(d, testAddr); err == nil {
		t.Error("Device added twice")
	}
	if err := AddDevice(d, 0x230); err == nil {
		t.Error("Device added on missing channel")
	}
	if err := AddChannel(1, TypeMux, 0); err == nil {
		t.Error("Channel added twice")
	}
	if err := AddChannel(MaxChan, TypeSel, 0); err == nil {
		t.Error("Channel past end added")
	}
	if GetType(testAddr) != TypeSel || GetType(0x230) != TypeDis {
		t.Errorf("GetType got: %d %d", GetType(testAddr), GetType(0x230))
	}
	got, err := GetDevice(testAddr)
	if err != nil || got != d {
		t.Errorf("GetDevice got: %v %v", got, err)
	}
	list := Devices()
	if len(list) != 1 || list[0] != testAddr {
		t.Errorf("Devices got: %x", list)
	}
	if _, err = HaltIO(testAddr); err != nil || !d.halt {
		t.Errorf("HaltIO not passed to device: %v", err)
	}
	DelDevice(testAddr)
	if _, err = GetDevice(testAddr); !errors.Is(err, ErrNoDevice) {
		t.Errorf("GetDevice after delete got: %v", err)
	}
	if _, err = StartIO(testAddr, mem.New(4), 0x100); !errors.Is(err, ErrNoDevice) {
		t.Errorf("StartIO on missing device got: %v", err)
	}
}

func TestChannelConfig(t *testing.T) {
	InitializeChannels()
	t.Cleanup(InitializeChannels)
	for _, tc := range []struct {
		line string
		fail bool
	}{
		{"CHANNEL 2 BMUX", false},
		{"CHANNEL 2 SEL", true},
		{"CHANNEL 3", true},
		{"CHANNEL 4 SEL MUX", true},
		{"CHANNEL 5 MUX SUB=300", true},
		{"CHANNEL 6 MUX SUB=64", false},
		{"CHANNEL 7 DISK", true},
		{"CHANNEL 99 SEL", true},
	} {
		err := config.CreateDevice(tc.line)
		if tc.fail && err == nil {
			t.Errorf("%q created channel", tc.line)
		}
		if !tc.fail && err != nil {
			t.Errorf("%q failed: %v", tc.line, err)
		}
	}
	if GetType(0x200) != TypeBMux || GetType(0x600) != TypeMux {
		t.Errorf("Channel types got: %d %d", GetType(0x200), GetType(0x600))
	}
}

func TestReadWrite(t *testing.T) {
	d, m := setupChannel(t)
	d.data = []byte("0123456789")
	if err := m.Load(0x400, []byte("ABCDEFGHIJ")); err != nil {
		t.Fatal(err)
	}
	putCCW(m, 0x100, 0x01, 0x400, dev.FlagCC, 10)
	putCCW(m, 0x108, 0x02, 0x500, 0, 10)

	csw := startIO(t, m, 0x100)
	if csw.Addr != 0x110 || csw.Unit != statusEnd || csw.Chan != 0 || csw.Count != 0 {
		t.Errorf("CSW got: %s", csw)
	}
	if w, _ := m.GetWord(CSWAddr); w != 0x00000110 {
		t.Errorf("CSW word 0 got: %08x", w)
	}
	if w, _ := m.GetWord(CSWAddr + 4); w != 0x0c000000 {
		t.Errorf("CSW word 1 got: %08x", w)
	}
	if len(d.written) != 1 || string(d.written[0]) != "ABCDEFGHIJ" {
		t.Errorf("Written data got: %q", d.written)
	}
	if got := readMem(t, m, 0x500, 10); string(got) != "0123456789" {
		t.Errorf("Read data got: %q", got)
	}

	if len(d.ccws) != 2 {
		t.Fatalf("Commands executed got: %d", len(d.ccws))
	}
	first, second := d.ccws[0], d.ccws[1]
	if first.Chained != 0 || first.Seq != 0 || first.Count != 10 || first.Flags != dev.FlagCC {
		t.Errorf("First CCW got: %+v", first)
	}
	if second.Chained != dev.FlagCC || second.PrevCode != 0x01 || second.Seq != 1 {
		t.Errorf("Second CCW got: %+v", second)
	}
}

func TestDataChain(t *testing.T) {
	d, m := setupChannel(t)
	d.data = []byte("ABCDEFGHIJ")
	putCCW(m, 0x100, 0x02, 0x600, dev.FlagCD, 4)
	putCCW(m, 0x108, 0x00, 0x700, 0, 6)

	csw := startIO(t, m, 0x100)
	if csw.Addr != 0x110 || csw.Chan != 0 || csw.Count != 0 {
		t.Errorf("CSW got: %s", csw)
	}
	if len(d.ccws) != 1 || d.ccws[0].Count != 10 {
		t.Errorf("Device commands got: %+v", d.ccws)
	}
	if got := readMem(t, m, 0x600, 4); string(got) != "ABCD" {
		t.Errorf("First area got: %q", got)
	}
	if got := readMem(t, m, 0x700, 6); string(got) != "EFGHIJ" {
		t.Errorf("Second area got: %q", got)
	}

	// Short transfer ends in first area.
	d.data = []byte("XY")
	csw = startIO(t, m, 0x100)
	if csw.Addr != 0x108 || csw.Count != 2 || csw.Chan != StatusLength {
		t.Errorf("Short CSW got: %s", csw)
	}
}

func TestIncorrectLength(t *testing.T) {
	d, m := setupChannel(t)
	d.data = []byte("0123456789")
	putCCW(m, 0x100, 0x02, 0x400, dev.FlagCC, 20)
	putCCW(m, 0x108, 0x03, 0, 0, 1)

	csw := startIO(t, m, 0x100)
	if csw.Chan != StatusLength || csw.Count != 10 || csw.Addr != 0x108 {
		t.Errorf("CSW got: %s", csw)
	}
	if len(d.ccws) != 1 {
		t.Errorf("Chaining continued after incorrect length: %d", len(d.ccws))
	}

	// Suppressed length continues chain, Nop is immediate.
	d.ccws = nil
	putCCW(m, 0x100, 0x02, 0x400, dev.FlagCC|dev.FlagSLI, 20)
	csw = startIO(t, m, 0x100)
	if csw.Chan != 0 || csw.Addr != 0x110 || len(d.ccws) != 2 {
		t.Errorf("SLI CSW got: %s commands: %d", csw, len(d.ccws))
	}

	// Record longer than count.
	d.ccws = nil
	d.data = bytes.Repeat([]byte{1}, 30)
	putCCW(m, 0x100, 0x02, 0x400, 0, 20)
	csw = startIO(t, m, 0x100)
	if csw.Chan != StatusLength || csw.Count != 0 {
		t.Errorf("Long record CSW got: %s", csw)
	}
}

func TestTIC(t *testing.T) {
	d, m := setupChannel(t)

	// TIC can't be first.
	putCCW(m, 0x100, 0x08, 0x200, 0, 0)
	csw := startIO(t, m, 0x100)
	if csw.Chan != StatusPCHK || csw.Addr != 0x108 || len(d.ccws) != 0 {
		t.Errorf("TIC first CSW got: %s", csw)
	}

	putCCW(m, 0x100, 0x03, 0, dev.FlagCC, 1)
	putCCW(m, 0x108, 0x08, 0x200, 0, 0)
	putCCW(m, 0x200, 0x03, 0, 0, 1)
	csw = startIO(t, m, 0x100)
	if csw.Chan != 0 || csw.Addr != 0x208 || len(d.ccws) != 2 {
		t.Errorf("TIC CSW got: %s commands: %d", csw, len(d.ccws))
	}

	// TIC to TIC.
	d.ccws = nil
	putCCW(m, 0x200, 0x08, 0x300, 0, 0)
	csw = startIO(t, m, 0x100)
	if csw.Chan != StatusPCHK || csw.Addr != 0x208 || len(d.ccws) != 1 {
		t.Errorf("TIC to TIC CSW got: %s commands: %d", csw, len(d.ccws))
	}
}

func TestStatusModifier(t *testing.T) {
	d, m := setupChannel(t)
	d.status[0x31] = dev.CStatusSMS
	d.data = []byte("DATA")
	putCCW(m, 0x100, 0x31, 0x400, dev.FlagCC, 5)
	putCCW(m, 0x108, 0x08, 0x100, 0, 0)
	putCCW(m, 0x110, 0x06, 0x500, 0, 4)

	csw := startIO(t, m, 0x100)
	if csw.Addr != 0x118 || csw.Chan != 0 {
		t.Errorf("CSW got: %s", csw)
	}
	if len(d.ccws) != 2 || d.ccws[1].Code != 0x06 || d.ccws[1].PrevCode != 0x31 {
		t.Errorf("Commands got: %+v", d.ccws)
	}
}

func TestUnitCheck(t *testing.T) {
	d, m := setupChannel(t)
	putCCW(m, 0x100, 0x07, 0x400, dev.FlagCC, 6)
	putCCW(m, 0x108, 0x03, 0, 0, 1)

	csw := startIO(t, m, 0x100)
	if csw.Unit&dev.CStatusCheck == 0 || csw.Addr != 0x108 || len(d.ccws) != 1 {
		t.Errorf("CSW got: %s commands: %d", csw, len(d.ccws))
	}

	putCCW(m, 0x200, 0x04, 0x600, dev.FlagSLI, 8)
	csw = startIO(t, m, 0x200)
	if csw.Unit != statusEnd || csw.Chan != 0 || csw.Count != 7 {
		t.Errorf("Sense CSW got: %s", csw)
	}
	if b, _ := m.GetByte(0x600); b != dev.SenseCMDREJ {
		t.Errorf("Sense byte got: %02x", b)
	}
	if d.ccws[1].Chained != 0 || d.ccws[1].Seq != 0 {
		t.Errorf("New program not at start of chain: %+v", d.ccws[1])
	}

	d.busy = true
	csw = startIO(t, m, 0x200)
	if csw.Unit != dev.CStatusBusy || len(d.ccws) != 2 {
		t.Errorf("Busy CSW got: %s", csw)
	}
}

func TestProgramCheck(t *testing.T) {
	d, m := setupChannel(t)
	d.data = []byte("0123456789")

	for _, tc := range []struct {
		name  string
		caw   uint32
		code  uint8
		addr  uint32
		count uint16
	}{
		{"zero count", 0x100, 0x02, 0x400, 0},
		{"invalid command", 0x100, 0x00, 0x400, 10},
		{"unaligned caw", 0x104, 0x02, 0x400, 10},
		{"data outside storage", 0x100, 0x02, 0xfffff0, 10},
		{"caw outside storage", 0x100000, 0x02, 0x400, 10},
	} {
		putCCW(m, 0x100, tc.code, tc.addr, 0, tc.count)
		csw := startIO(t, m, tc.caw)
		if csw.Chan&StatusPCHK == 0 {
			t.Errorf("%s CSW got: %s", tc.name, csw)
		}
	}
}

func TestProtection(t *testing.T) {
	d, m := setupChannel(t)
	d.data = []byte("0123456789")
	m.PutKey(0x1000, 0x20)
	putCCW(m, 0x100, 0x02, 0x1000, 0, 10)

	csw := startIO(t, m, 0x30000100)
	if csw.Chan&StatusProt == 0 || csw.Key != 0x30 {
		t.Errorf("Store CSW got: %s", csw)
	}
	if w, _ := m.GetWord(CSWAddr); w != 0x30000108 {
		t.Errorf("CSW word 0 got: %08x", w)
	}
	if got := readMem(t, m, 0x1000, 10); !bytes.Equal(got, make([]byte, 10)) {
		t.Errorf("Protected storage changed: %q", got)
	}

	// Matching key stores.
	csw = startIO(t, m, 0x20000100)
	if csw.Chan != 0 || string(readMem(t, m, 0x1000, 10)) != "0123456789" {
		t.Errorf("Matching key CSW got: %s", csw)
	}

	// Fetch protected channel program.
	d.ccws = nil
	m.PutKey(0x800, 0x20|mem.KeyFetch)
	putCCW(m, 0x800, 0x02, 0x400, 0, 10)
	csw = startIO(t, m, 0x30000800)
	if csw.Chan&StatusProt == 0 || len(d.ccws) != 0 {
		t.Errorf("Fetch CSW got: %s", csw)
	}
}

func TestIndirectData(t *testing.T) {
	d, m := setupChannel(t)
	d.data = make([]byte, 300)
	for i := range d.data {
		d.data[i] = uint8(i)
	}
	m.PutWord(0x900, 0x1780)
	m.PutWord(0x904, 0x3000)
	putCCW(m, 0x100, 0x02, 0x900, dev.FlagIDA, 300)

	csw := startIO(t, m, 0x100)
	if csw.Chan != 0 || csw.Count != 0 {
		t.Errorf("CSW got: %s", csw)
	}
	if got := readMem(t, m, 0x1780, 128); !bytes.Equal(got, d.data[:128]) {
		t.Errorf("First block got: % x", got[:16])
	}
	if got := readMem(t, m, 0x3000, 172); !bytes.Equal(got, d.data[128:]) {
		t.Errorf("Second block got: % x", got[:16])
	}

	// Second address must start a block.
	m.PutWord(0x904, 0x3010)
	csw = startIO(t, m, 0x100)
	if csw.Chan != StatusPCHK {
		t.Errorf("Unaligned IDAW CSW got: %s", csw)
	}
}

func TestSkipAndBackward(t *testing.T) {
	d, m := setupChannel(t)
	d.data = []byte("ABCD")
	putCCW(m, 0x100, 0x02, 0x400, dev.FlagSkip, 4)

	csw := startIO(t, m, 0x100)
	if csw.Chan != 0 || csw.Count != 0 {
		t.Errorf("Skip CSW got: %s", csw)
	}
	if got := readMem(t, m, 0x400, 4); !bytes.Equal(got, make([]byte, 4)) {
		t.Errorf("Skip stored data: %q", got)
	}

	putCCW(m, 0x100, 0x0c, 0x40f, 0, 4)
	csw = startIO(t, m, 0x100)
	if csw.Chan != 0 {
		t.Errorf("Backward CSW got: %s", csw)
	}
	if got := readMem(t, m, 0x40c, 4); string(got) != "DCBA" {
		t.Errorf("Backward data got: %q", got)
	}
}

func TestIPL(t *testing.T) {
	d, m := setupChannel(t)
	d.ipl = []byte{
		0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00,
		0x02, 0x00, 0x06, 0x00, 0x20, 0x00, 0x00, 0x10,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	d.data = []byte("ABCDEFGH")

	csw, err := IPLDevice(testAddr, m)
	if err != nil {
		t.Fatal(err)
	}
	if d.resets != 1 {
		t.Errorf("Devices not reset: %d", d.resets)
	}
	if csw.Addr != 0x10 || csw.Count != 8 || csw.Chan != 0 {
		t.Errorf("CSW got: %s", csw)
	}
	if len(d.ccws) != 2 || d.ccws[0].Count != 24 || d.ccws[1].Chained != dev.FlagCC || d.ccws[1].PrevCode != 0x02 {
		t.Errorf("Commands got: %+v", d.ccws)
	}
	if w, _ := m.GetWord(0); w != 0x00080000 {
		t.Errorf("IPL PSW got: %08x", w)
	}
	if got := readMem(t, m, 0x600, 8); string(got) != "ABCDEFGH" {
		t.Errorf("IPL text got: %q", got)
	}

	if _, err = IPLDevice(0x1ff, m); !errors.Is(err, ErrNoDevice) {
		t.Errorf("IPL from missing device got: %v", err)
	}
}

func TestDebug(t *testing.T) {
	d, m := setupChannel(t)
	if err := Debug(1, "BAD"); err == nil {
		t.Error("Invalid debug option accepted")
	}
	if err := Debug(9, "CMD"); err == nil {
		t.Error("Debug on missing channel accepted")
	}
	if err := Debug(1, "CMD"); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	prev := debug.SetOutput(&out)
	defer debug.SetOutput(prev)

	d.data = []byte("A")
	putCCW(m, 0x100, 0x02, 0x400, 0, 1)
	startIO(t, m, 0x100)
	if !strings.Contains(out.String(), "Channel 1: 130 CCW 000100 02000400 00000001") {
		t.Errorf("Debug output got: %q", out.String())
	}
}
