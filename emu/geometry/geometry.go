/*
 * S370 - DASD geometry tables.
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

package geometry

import "strings"

const (
	HASize    = 5 // Home address: flag, CC, HH
	CountSize = 8 // Count field: CC HH R KL DL DL
)

// Description of one DASD model.
type DASD struct {
	Name     string // Model name
	DevType  uint16 // Device type
	Model    uint8  // Device model
	Class    uint8  // Device class
	Code     uint8  // Device type code
	Cyls     int    // Primary cylinders
	AltCyls  int    // Alternate cylinders
	Heads    int    // Tracks per cylinder
	R0Len    int    // Maximum R0 data length
	R1Len    int    // Maximum R1 data length
	Sectors  int    // Sectors per track
	SenseLen int    // Number of sense bytes
	CU       string // Control unit name
	Legacy   bool   // Pre 3330 sense layout
}

// Description of a storage control.
type ControlUnit struct {
	Name    string // Control unit name
	Type    uint16 // Control unit type
	Model   uint8  // Control unit model
	Code    uint8  // Type code for Read Device Characteristics
	Paths   int    // Storage paths
	Feature uint32 // Facilities in device characteristics
}

var dasdTable = []DASD{
	{"2311", 0x2311, 0x00, 0x20, 0x00, 200, 3, 10, 3625, 3625, 0, 6, "2841", true},
	{"2314", 0x2314, 0x00, 0x20, 0x00, 200, 3, 20, 7294, 7294, 0, 6, "2314", true},
	{"3330", 0x3330, 0x01, 0x20, 0x00, 404, 7, 19, 13030, 13030, 128, 24, "3830", false},
	{"3330-11", 0x3330, 0x11, 0x20, 0x00, 808, 7, 19, 13030, 13030, 128, 24, "3830", false},
	{"3340", 0x3340, 0x01, 0x20, 0x00, 348, 1, 12, 8368, 8368, 64, 24, "3830", false},
	{"3350", 0x3350, 0x00, 0x20, 0x00, 555, 5, 30, 19069, 19069, 128, 24, "3830", false},
	{"3375", 0x3375, 0x02, 0x20, 0x0e, 959, 3, 12, 35616, 35616, 196, 24, "3880", false},
	{"3380", 0x3380, 0x02, 0x20, 0x0e, 885, 1, 15, 47476, 47476, 222, 24, "3880", false},
	{"3380-E", 0x3380, 0x0a, 0x20, 0x0e, 1770, 2, 15, 47476, 47476, 222, 24, "3880", false},
	{"3380-K", 0x3380, 0x1e, 0x20, 0x0e, 2655, 3, 15, 47476, 47476, 222, 24, "3880", false},
	{"3390", 0x3390, 0x02, 0x20, 0x26, 1113, 1, 15, 57326, 56664, 224, 32, "3990", false},
	{"3390-2", 0x3390, 0x06, 0x20, 0x27, 2226, 1, 15, 57326, 56664, 224, 32, "3990", false},
	{"3390-3", 0x3390, 0x0a, 0x20, 0x24, 3339, 1, 15, 57326, 56664, 224, 32, "3990", false},
	{"3390-9", 0x3390, 0x0c, 0x20, 0x32, 10017, 3, 15, 57326, 56664, 224, 32, "3990", false},
	{"9345", 0x9345, 0x04, 0x20, 0x04, 1440, 2, 15, 48174, 46456, 213, 32, "9343", false},
}

var cuTable = []ControlUnit{
	{"2841", 0x2841, 0x00, 0x00, 1, 0},
	{"2314", 0x2314, 0x00, 0x00, 1, 0},
	{"3830", 0x3830, 0x02, 0x00, 2, 0},
	{"3880", 0x3880, 0x13, 0x01, 2, 0x80000000},
	{"3990", 0x3990, 0xec, 0x42, 4, 0xd0000002},
	{"9343", 0x9343, 0xe0, 0x42, 4, 0x80000000},
}

// Look up a device by model name, type only matches first model.
func Lookup(name string) *DASD {
	name = strings.ToUpper(name)
	for i := range dasdTable {
		if dasdTable[i].Name == name {
			return &dasdTable[i]
		}
	}
	return nil
}

// Look up device by the type byte stored in an image header.
func LookupType(devType uint8, cyls int) *DASD {
	var match *DASD
	for i := range dasdTable {
		d := &dasdTable[i]
		if uint8(d.DevType&0xff) != devType {
			continue
		}
		if match == nil {
			match = d
		}
		// Pick the smallest model that holds the volume.
		if cyls <= d.Cyls+d.AltCyls {
			return d
		}
	}
	return match
}

// Look up control unit.
func LookupCU(name string) *ControlUnit {
	for i := range cuTable {
		if cuTable[i].Name == name {
			return &cuTable[i]
		}
	}
	return nil
}

// Return list of model names.
func Models() []string {
	names := make([]string, 0, len(dasdTable))
	for _, d := range dasdTable {
		names = append(names, d.Name)
	}
	return names
}

// Size of track image buffer.
func (d *DASD) TrackSize() int {
	size := max(d.R0Len, d.R1Len) + HASize + 2*CountSize + 2*CountSize
	return (size + 511) &^ 511
}

// Total cylinders including alternates.
func (d *DASD) TotalCyls() int {
	return d.Cyls + d.AltCyls
}

// Convert cylinder and head to relative track.
func (d *DASD) Track(cyl, head int) int {
	return cyl*d.Heads + head
}

// Convert relative track to cylinder and head.
func (d *DASD) CylHead(trk int) (int, int) {
	return trk / d.Heads, trk % d.Heads
}

// Low byte of device type as stored in image header.
func (d *DASD) TypeByte() uint8 {
	return uint8(d.DevType & 0xff)
}
