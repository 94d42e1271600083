/*
 * S370 - Channel program execution.
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

// Package syschannel holds the channel and device tables and runs channel
// programs against devices.
//
// A channel program runs to completion inside StartIO. Each command, with
// any CCWs data chained to it, is handed to the device as one transfer.
package syschannel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	config "github.com/rcornwell/S370dasd/config/configparser"
	dev "github.com/rcornwell/S370dasd/emu/device"
	mem "github.com/rcornwell/S370dasd/emu/memory"
	"github.com/rcornwell/S370dasd/util/hex"
)

const (
	MaxChan = 16 // Max number of channels

	// Channel types.
	TypeDis  = 0 // Channel disabled
	TypeSel  = 1 // Selector channel
	TypeMux  = 2 // Multiplexer channel
	TypeBMux = 3 // Block multiplexer channel

	keyMask   uint32 = 0xf0000000 // Channel key mask
	addrMask  uint32 = 0x00ffffff // Mask for data address
	countMask uint32 = 0x0000ffff // Mask for data count
	idaBlock  uint32 = 0x800      // Indirect data block size

	// Addresses for reading and writing channel status to.
	CSWAddr uint32 = 0x40 // Channel Status Word
	CAWAddr uint32 = 0x48 // Channel Address Word

	// Channel status information.
	StatusPCI    uint8 = 0x80 // Program interrupt
	StatusLength uint8 = 0x40 // Incorrect length
	StatusPCHK   uint8 = 0x20 // Program check
	StatusProt   uint8 = 0x10 // Protection check
	StatusCDChk  uint8 = 0x08 // Channel data check
	StatusCCChk  uint8 = 0x04 // Channel control check
	StatusCIChk  uint8 = 0x02 // Channel interface check
	StatusChain  uint8 = 0x01 // Channel chain check

	errorStatus = StatusLength | StatusPCHK | StatusProt | StatusCDChk |
		StatusCCChk | StatusCIChk | StatusChain
	unitStop = dev.CStatusAttn | dev.CStatusCheck | dev.CStatusExpt | dev.CStatusBusy
)

const (
	// Debug options.
	debugCmd = 1 << iota
	debugData
	debugCSW
)

var debugOption = map[string]int{
	"CMD":  debugCmd,
	"DATA": debugData,
	"CSW":  debugCSW,
}

var ErrNoDevice = errors.New("device not operational")

// Channel status word.
type CSW struct {
	Key    uint8  // Protection key
	Addr   uint32 // Address of last CCW plus 8
	Unit   uint8  // Unit status
	Chan   uint8  // Channel status
	Count  uint16 // Residual count
}

// Return CSW as stored in memory.
func (csw CSW) Words() (uint32, uint32) {
	return (uint32(csw.Key&0xf0) << 24) | (csw.Addr & addrMask),
		(uint32(csw.Unit) << 24) | (uint32(csw.Chan) << 16) | uint32(csw.Count)
}

func (csw CSW) String() string {
	var str strings.Builder
	w0, w1 := csw.Words()
	hex.FormatWord(&str, []uint32{w0, w1})
	return strings.TrimSpace(str.String())
}

// Holds channel information.
type chanDev struct {
	devTab     [256]dev.Device // Pointer to device interfaces
	chanType   int             // Type of channel
	numSubChan int             // Number of subchannels
	debugMsk   int             // Debug options mask
}

var (
	// Hold information about channels.
	chanUnit [MaxChan]*chanDev
	chanLock sync.RWMutex
)

// Add a channel of given type.
func AddChannel(cNum int, ty int, subchan int) error {
	if cNum < 0 || cNum >= len(chanUnit) {
		return fmt.Errorf("channel number too large: %d max: %d", cNum, len(chanUnit)-1)
	}
	chanLock.Lock()
	defer chanLock.Unlock()
	if chanUnit[cNum] != nil {
		return fmt.Errorf("channel %d already defined", cNum)
	}

	numSubChan := subchan
	switch ty {
	case TypeSel:
		numSubChan = 1
	case TypeMux:
		if numSubChan == 0 {
			numSubChan = 256
		}
	case TypeBMux:
		numSubChan = 32
	default:
		return fmt.Errorf("channel %d invalid type %d", cNum, ty)
	}
	chanUnit[cNum] = &chanDev{chanType: ty, numSubChan: numSubChan}
	return nil
}

// Clear all channels and device assignments.
func InitializeChannels() {
	chanLock.Lock()
	defer chanLock.Unlock()
	for i := range chanUnit {
		chanUnit[i] = nil
	}
}

// Return type of channel device is on.
func GetType(devNum uint16) int {
	chanLock.RLock()
	defer chanLock.RUnlock()
	cUnit := chanUnit[(devNum>>8)&0xf]
	if cUnit == nil {
		return TypeDis
	}
	return cUnit.chanType
}

// Add a device at a given address.
func AddDevice(device dev.Device, devNum uint16) error {
	ch := (devNum >> 8) & 0xf
	dNum := devNum & 0xff
	chanLock.Lock()
	defer chanLock.Unlock()
	cUnit := chanUnit[ch]
	// Check if channel exists
	if cUnit == nil {
		return fmt.Errorf("channel %d does not exist", ch)
	}

	// Check if device already exists.
	if cUnit.devTab[dNum] != nil {
		return fmt.Errorf("device %03x already exists", devNum)
	}
	cUnit.devTab[dNum] = device
	return nil
}

// Get a device pointer.
func GetDevice(devNum uint16) (dev.Device, error) {
	ch := (devNum >> 8) & 0xf
	dNum := devNum & 0xff
	chanLock.RLock()
	defer chanLock.RUnlock()
	cUnit := chanUnit[ch]
	// Check if channel exists
	if cUnit == nil {
		return nil, fmt.Errorf("channel %d does not exist: %w", ch, ErrNoDevice)
	}

	// Check if device exists.
	if cUnit.devTab[dNum] == nil {
		return nil, fmt.Errorf("device %03x doesn't exist: %w", devNum, ErrNoDevice)
	}
	return cUnit.devTab[dNum], nil
}

// Delete a device at a given address.
func DelDevice(devNum uint16) {
	chanLock.Lock()
	defer chanLock.Unlock()
	cUnit := chanUnit[(devNum>>8)&0xf]
	if cUnit != nil {
		cUnit.devTab[devNum&0xff] = nil
	}
}

// Return address of every device, in address order.
func Devices() []uint16 {
	chanLock.RLock()
	defer chanLock.RUnlock()
	var list []uint16
	for ch, cUnit := range chanUnit {
		if cUnit == nil {
			continue
		}
		for dNum, d := range cUnit.devTab {
			if d != nil {
				list = append(list, uint16(ch<<8|dNum))
			}
		}
	}
	return list
}

// Enable channel debug option.
func Debug(cNum int, opt string) error {
	flag, ok := debugOption[opt]
	if !ok {
		return errors.New("channel debug option invalid: " + opt)
	}
	chanLock.Lock()
	defer chanLock.Unlock()
	if cNum < 0 || cNum >= len(chanUnit) || chanUnit[cNum] == nil {
		return fmt.Errorf("channel %d does not exist", cNum)
	}
	chanUnit[cNum].debugMsk |= flag
	return nil
}

// Reset every device.
func ResetChannels() {
	chanLock.RLock()
	defer chanLock.RUnlock()
	for _, cUnit := range chanUnit {
		if cUnit == nil {
			continue
		}
		for _, d := range cUnit.devTab {
			if d != nil {
				d.InitDev()
			}
		}
	}
}

// Halt device.
func HaltIO(devNum uint16) (uint8, error) {
	d, err := GetDevice(devNum)
	if err != nil {
		return 0, err
	}
	return d.HaltIO(), nil
}

// Run channel program at caw on device, CSW is returned and stored at 0x40.
func StartIO(devNum uint16, memory *mem.Memory, caw uint32) (CSW, error) {
	r, err := newRunner(devNum, memory, caw)
	if err != nil {
		return CSW{}, err
	}
	csw := r.run(nil)
	r.storeCSW(csw)
	return csw, nil
}

// Read IPL record from device into location 0 and run rest of program.
func IPLDevice(devNum uint16, memory *mem.Memory) (CSW, error) {
	r, err := newRunner(devNum, memory, 0x8)
	if err != nil {
		return CSW{}, err
	}

	// Clear all channels before staring new device.
	ResetChannels()
	ipl := &segment{addr: 0, count: 24, flags: dev.FlagCC | dev.FlagSLI}
	csw := r.run(&command{code: 0x02, flags: ipl.flags, segs: []*segment{ipl}})
	r.storeCSW(csw)
	if csw.Chan&errorStatus != 0 || csw.Unit&unitStop != 0 {
		return csw, fmt.Errorf("IPL from %03x failed CSW: %s", devNum, csw)
	}
	return csw, nil
}

// register a channel on initialize.
func init() {
	config.RegisterModel("CHANNEL", config.TypeOptions, create)
}

// Create a channel.
func create(_ uint16, number string, options []config.Option) error {
	// Get channel number
	ch, err := strconv.ParseUint(number, 10, 8)
	if err != nil {
		return errors.New("channel number must be a number: " + number)
	}

	chanType := TypeDis
	subChans := uint64(0)
	for _, option := range options {
		switch strings.ToUpper(option.Name) {
		case "MPX", "MUX":
			if chanType != TypeDis {
				return errors.New("can't have more then one channel type")
			}
			chanType = TypeMux
		case "SEL":
			if chanType != TypeDis {
				return errors.New("can't have more then one channel type")
			}
			chanType = TypeSel
		case "BMUX":
			if chanType != TypeDis {
				return errors.New("can't have more then one channel type")
			}
			chanType = TypeBMux
		case "SUB", "SUBCHAN":
			if subChans != 0 {
				return errors.New("can't have more then one subchannel count")
			}
			subChans, err = strconv.ParseUint(option.EqualOpt, 10, 9)
			if err != nil || subChans > 256 {
				return errors.New("subchannel option: " + option.EqualOpt + " invalid must be less than 256")
			}
		default:
			return errors.New("channel invalid option: " + option.Name)
		}
		if option.Value != nil {
			return errors.New("extra options not supported on: " + option.Name)
		}
	}

	if chanType == TypeDis {
		return fmt.Errorf("no channel type defined for channel %d", ch)
	}
	return AddChannel(int(ch), chanType, int(subChans))
}
