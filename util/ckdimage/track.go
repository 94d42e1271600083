/*
 * S370 - CKD track layout.
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

package ckdimage

import (
	"encoding/binary"

	"github.com/rcornwell/S370dasd/emu/geometry"
	"github.com/rcornwell/S370dasd/util/xlat"
)

// Count field of one record.
type Count struct {
	Cyl     uint16 // Cylinder, high bit flags overflow record
	Head    uint16 // Head
	Rec     uint8  // Record number
	KeyLen  uint8  // Key length
	DataLen uint16 // Data length
}

// End of track marker.
var EOT = [geometry.CountSize]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Check if buffer starts with end of track marker.
func IsEOT(buf []byte) bool {
	if len(buf) < geometry.CountSize {
		return true
	}
	for _, by := range buf[:geometry.CountSize] {
		if by != 0xff {
			return false
		}
	}
	return true
}

// Decode count field.
func GetCount(buf []byte) Count {
	return Count{
		Cyl:     binary.BigEndian.Uint16(buf[0:]),
		Head:    binary.BigEndian.Uint16(buf[2:]),
		Rec:     buf[4],
		KeyLen:  buf[5],
		DataLen: binary.BigEndian.Uint16(buf[6:]),
	}
}

// Encode count field.
func PutCount(buf []byte, c Count) {
	binary.BigEndian.PutUint16(buf[0:], c.Cyl)
	binary.BigEndian.PutUint16(buf[2:], c.Head)
	buf[4] = c.Rec
	buf[5] = c.KeyLen
	binary.BigEndian.PutUint16(buf[6:], c.DataLen)
}

// Total length of record including count.
func (c Count) Size() int {
	return geometry.CountSize + int(c.KeyLen) + int(c.DataLen)
}

// Encode home address.
func PutHA(buf []byte, cyl, head int) {
	buf[0] = 0
	binary.BigEndian.PutUint16(buf[1:], uint16(cyl))
	binary.BigEndian.PutUint16(buf[3:], uint16(head))
}

// Decode home address.
func GetHA(buf []byte) (int, int) {
	return int(binary.BigEndian.Uint16(buf[1:])), int(binary.BigEndian.Uint16(buf[3:]))
}

// Format empty track with home address, record zero and end of track.
func FormatTrack(buf []byte, cyl, head int) int {
	PutHA(buf, cyl, head)
	pos := geometry.HASize
	PutCount(buf[pos:], Count{Cyl: uint16(cyl), Head: uint16(head), DataLen: 8})
	pos += geometry.CountSize
	clear(buf[pos : pos+8])
	pos += 8
	copy(buf[pos:], EOT[:])
	return pos
}

// Append record at pos, returns position of new end of track.
func AppendRecord(buf []byte, pos int, c Count, key, data []byte) int {
	PutCount(buf[pos:], c)
	pos += geometry.CountSize
	n := copy(buf[pos:pos+int(c.KeyLen)], key)
	clear(buf[pos+n : pos+int(c.KeyLen)])
	pos += int(c.KeyLen)
	n = copy(buf[pos:pos+int(c.DataLen)], data)
	clear(buf[pos+n : pos+int(c.DataLen)])
	pos += int(c.DataLen)
	copy(buf[pos:], EOT[:])
	return pos
}

// IPL records and volume label on track 0.
func formatVolume(buf []byte, volser string) {
	pos := FormatTrack(buf, 0, 0)
	key := make([]byte, 4)

	// IPL1: PSW and two CCWs that read IPL2.
	xlat.StringToEBCDIC("IPL1", key)
	ipl1 := []byte{
		0x00, 0x06, 0x00, 0x00, 0x00, 0x00, 0x0f, 0x00,
		0x06, 0x00, 0x3a, 0x98, 0x60, 0x00, 0x00, 0x60,
		0x08, 0x00, 0x3a, 0x98, 0x00, 0x00, 0x00, 0x00,
	}
	pos = AppendRecord(buf, pos, Count{Rec: 1, KeyLen: 4, DataLen: uint16(len(ipl1))}, key, ipl1)

	xlat.StringToEBCDIC("IPL2", key)
	pos = AppendRecord(buf, pos, Count{Rec: 2, KeyLen: 4, DataLen: 144}, key, nil)

	// VOL1 label, VTOC at cylinder 0 head 1 record 1.
	xlat.StringToEBCDIC("VOL1", key)
	label := make([]byte, 80)
	xlat.StringToEBCDIC("VOL1", label[0:4])
	xlat.StringToEBCDIC(volser, label[4:10])
	label[10] = 0x40
	label[11] = 0
	label[12] = 0
	label[13] = 0
	label[14] = 1
	label[15] = 1
	xlat.StringToEBCDIC("", label[16:80])
	AppendRecord(buf, pos, Count{Rec: 3, KeyLen: 4, DataLen: 80}, key, label)
}
