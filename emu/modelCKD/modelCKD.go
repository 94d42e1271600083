/*
 * S370 - Count Key Data disk drives.
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

// Package modelckd emulates CKD disk drives and their storage controls.
//
// Each device executes one CCW at a time under its own lock. Track data
// lives in the shared cache, one track per device is current at a time and
// modified bytes are written back to the image when the track changes or
// the channel program ends.
package modelckd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rcornwell/S370dasd/command/command"
	config "github.com/rcornwell/S370dasd/config/configparser"
	"github.com/rcornwell/S370dasd/emu/cache"
	dev "github.com/rcornwell/S370dasd/emu/device"
	"github.com/rcornwell/S370dasd/emu/geometry"
	ch "github.com/rcornwell/S370dasd/emu/sys_channel"
	"github.com/rcornwell/S370dasd/util/ckdimage"
)

const (
	// Debug options.
	debugCmd = 1 << iota
	debugData
	debugDetail
	debugCache
)

var debugOption = map[string]int{
	"CMD":    debugCmd,
	"DATA":   debugData,
	"DETAIL": debugDetail,
	"CACHE":  debugCache,
}

// Chain latches, cleared at start of each channel program.
type session struct {
	flags   uint8  // Search equal and write sequencing flags
	seeked  bool   // Seek, recalibrate or locate issued
	ipl     bool   // Read IPL issued
	sfm     bool   // Set file mask issued
	dx      bool   // Define extent issued
	mask    uint8  // File mask
	gattr   uint8  // Global attributes
	blkSize int    // Extent block size
	begTrk  int    // First track of extent
	endTrk  int    // Last track of extent
	lrOp    uint8  // Locate record operation byte
	lrAux   uint8  // Locate record auxiliary byte
	lrCount int    // Remaining records in domain
	lrTLF   int    // Transfer length factor
	lrFirst bool   // No read track issued yet in domain
	trkSet  []int  // Tracks for read track set
	ssd     []byte // Staged subsystem data
}

type ModelCKDctx struct {
	mu       sync.Mutex
	addr     uint16                // Current device address
	model    *geometry.DASD        // Drive model
	cu       *geometry.ControlUnit // Storage control
	image    *ckdimage.Image       // Attached image
	cache    *cache.Cache          // Track cache
	readOnly bool                  // Attached read only
	strict   bool                  // Data transfer requires seek first
	shared   bool                  // Image shared with other devices
	cyls     int                   // Cylinders on image
	heads    int                   // Tracks per cylinder
	trkSize  int                   // Bytes per track buffer
	debugMsk int                   // Debug options mask

	// Current track.
	curTrk  int    // Track in buffer, -1 none
	slot    int    // Cache slot holding track, -1 none
	buf     []byte // Track buffer
	dirtyLo int    // Start of modified range
	dirtyHi int    // End of modified range, 0 clean

	// Position on track.
	orient orient         // Orientation
	cyl    int            // Current cylinder
	head   int            // Current head
	pos    int            // Offset of current count field
	count  ckdimage.Count // Current count field
	ovfl   bool           // Current record overflows to next track
	index  bool           // Index point passed

	sess     session    // Chain latches
	sense    [32]uint8  // Sense data
	reserved atomic.Bool // Device reserved to this path
	pgState  uint8      // Path group state
	pgid     [11]uint8  // Path group id
}

// Information returned for status queries.
type Status struct {
	Addr     string `json:"addr"`
	Model    string `json:"model"`
	File     string `json:"file,omitempty"`
	Attached bool   `json:"attached"`
	ReadOnly bool   `json:"readOnly"`
	Cyls     int    `json:"cyls"`
	Heads    int    `json:"heads"`
	Cyl      int    `json:"cyl"`
	Head     int    `json:"head"`
	Orient   string `json:"orient"`
	Track    int    `json:"track"`
	Domain   int    `json:"domain"`
	Reserved bool   `json:"reserved"`
}

// Handle start of CCW chain.
func (device *ModelCKDctx) StartIO() uint8 {
	if device.peerReserved() {
		return dev.CStatusBusy
	}
	return 0
}

// Halt I/O, chains are executed to completion so nothing to stop.
func (device *ModelCKDctx) HaltIO() uint8 {
	return 0
}

// Initialize a device.
func (device *ModelCKDctx) InitDev() uint8 {
	device.mu.Lock()
	defer device.mu.Unlock()
	_ = device.endChain()
	device.sess = session{}
	device.orient = orientNone
	device.reserved.Store(false)
	clear(device.sense[:])
	return 0
}

// Shutdown device.
func (device *ModelCKDctx) Shutdown() {
	_ = device.Detach()
}

// Enable debug options.
func (device *ModelCKDctx) Debug(opt string) error {
	flag, ok := debugOption[opt]
	if !ok {
		return errors.New(device.model.Name + " debug option invalid: " + opt)
	}
	device.debugMsk |= flag
	return nil
}

// Return device address.
func (device *ModelCKDctx) Addr() uint16 {
	return device.addr
}

// Return current state.
func (device *ModelCKDctx) Status() Status {
	device.mu.Lock()
	defer device.mu.Unlock()
	st := Status{
		Addr:     fmt.Sprintf("%03x", device.addr),
		Model:    device.model.Name,
		Attached: device.image != nil,
		ReadOnly: device.readOnly,
		Cyls:     device.cyls,
		Heads:    device.heads,
		Cyl:      device.cyl,
		Head:     device.head,
		Orient:   device.orient.String(),
		Track:    device.curTrk,
		Domain:   device.sess.lrCount,
		Reserved: device.reserved.Load(),
	}
	if device.image != nil {
		st.File = device.image.Name()
	}
	return st
}

// Write any modified track data back to image.
func (device *ModelCKDctx) Flush() error {
	device.mu.Lock()
	defer device.mu.Unlock()
	if err := device.flushCurrent(); err != nil {
		return err
	}
	return nil
}

// Return copy of track for display.
func (device *ModelCKDctx) ReadTrack(cyl, head int) ([]byte, error) {
	device.mu.Lock()
	defer device.mu.Unlock()
	if device.image == nil {
		return nil, errors.New("device not attached")
	}
	if cyl < 0 || cyl >= device.cyls || head < 0 || head >= device.heads {
		return nil, fmt.Errorf("cylinder %d head %d outside device", cyl, head)
	}
	trk := cyl*device.heads + head
	if trk == device.curTrk && device.slot >= 0 {
		return append([]byte(nil), device.buf...), nil
	}
	buf := make([]byte, device.trkSize)
	if err := device.image.ReadTrack(trk, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Attach image file.
func (device *ModelCKDctx) attach(fileName string) error {
	img, err := ckdimage.Open(fileName, device.readOnly)
	if err != nil {
		return err
	}
	if img.DevType() != device.model.TypeByte() {
		img.Close()
		return fmt.Errorf("%s: image is for device type %02x not %s", fileName, img.DevType(), device.model.Name)
	}
	if img.TrackSize() < device.model.TrackSize() || img.Heads() != device.model.Heads {
		img.Close()
		return fmt.Errorf("%s: geometry does not match %s", fileName, device.model.Name)
	}
	if m := geometry.LookupType(img.DevType(), img.Cyls()); m != nil {
		device.model = m
		device.cu = geometry.LookupCU(m.CU)
	}
	device.image = img
	device.cyls = img.Cyls()
	device.heads = img.Heads()
	device.trkSize = img.TrackSize()
	device.curTrk = -1
	device.slot = -1
	device.cyl = 0
	device.head = 0
	device.orient = orientNone
	if device.shared {
		addPeer(device)
	}
	slog.Info("Attached", "device", fmt.Sprintf("%03x", device.addr), "file", fileName,
		"model", device.model.Name, "cyls", device.cyls)
	return nil
}

// Options for attach command.
func (device *ModelCKDctx) Options(_ string) []command.Options {
	return []command.Options{
		{
			Name:        "file",
			OptionType:  command.OptionFile,
			OptionValid: command.ValidAttach | command.ValidShow,
		},
		{
			Name:        "ro",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidAttach | command.ValidShow,
		},
		{
			Name:        "rw",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidAttach,
		},
		{
			Name:        "strict",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidSet | command.ValidShow,
		},
		{
			Name:        "type",
			OptionType:  command.OptionSwitch,
			OptionValid: command.ValidShow,
		},
	}
}

// Attach file to device.
func (device *ModelCKDctx) Attach(opts []*command.CmdOption) error {
	err := device.Detach()
	if err != nil {
		return err
	}
	device.mu.Lock()
	defer device.mu.Unlock()

	fileName := ""
	device.readOnly = false
	for _, opt := range opts {
		switch opt.Name {
		case "file":
			if opt.EqualOpt == "" {
				return errors.New("file requires file name")
			}
			if fileName != "" {
				return errors.New("only one file name option allowed")
			}
			fileName = opt.EqualOpt
		case "ro":
			device.readOnly = true
		case "rw":
			device.readOnly = false
		default:
			return errors.New("invalid option: " + opt.Name)
		}
	}
	if fileName == "" {
		return errors.New("attach requires file name")
	}
	return device.attach(fileName)
}

// Detach device.
func (device *ModelCKDctx) Detach() error {
	device.mu.Lock()
	defer device.mu.Unlock()
	if device.image == nil {
		return nil
	}
	err := device.flushCurrent()
	device.releaseSlot()
	device.cache.Lock()
	device.cache.Purge(func(key uint64) bool { return cache.KeyDevice(key) == device.addr })
	device.cache.Unlock()
	delPeer(device)
	if cerr := device.image.Close(); err == nil {
		err = cerr
	}
	slog.Info("Detached", "device", fmt.Sprintf("%03x", device.addr))
	device.image = nil
	device.curTrk = -1
	return err
}

// Set command.
func (device *ModelCKDctx) Set(unset bool, opts []*command.CmdOption) error {
	device.mu.Lock()
	defer device.mu.Unlock()
	for _, opt := range opts {
		switch opt.Name {
		case "strict":
			device.strict = !unset
		default:
			return errors.New("invalid option: " + opt.Name)
		}
	}
	return nil
}

// Show command.
func (device *ModelCKDctx) Show(opts []*command.CmdOption) (string, error) {
	flags := 0

	str := fmt.Sprintf("%03x:", device.addr)
	for _, opt := range opts {
		switch opt.Name {
		case "file":
			flags |= 1
		case "ro":
			flags |= 2
		case "strict":
			flags |= 4
		case "type":
			flags |= 8
		default:
			return "", errors.New("invalid option: " + opt.Name)
		}
	}

	if flags == 0 {
		flags = 0xf
	}
	st := device.Status()
	if (flags & 8) != 0 {
		str += fmt.Sprintf(" %s %d cyl", st.Model, st.Cyls)
	}
	if (flags & 2) != 0 {
		if st.ReadOnly {
			str += " RO"
		} else {
			str += " RW"
		}
	}
	if (flags&4) != 0 && device.strict {
		str += " STRICT"
	}
	if (flags & 1) != 0 {
		if st.Attached {
			str += " " + st.File
		} else {
			str += " not attached"
		}
	}
	return str, nil
}

// register devices on initialize.
func init() {
	for _, name := range []string{"2311", "2314", "3330", "3340", "3350", "3375", "3380", "3390", "9345"} {
		config.RegisterModel(name, config.TypeModel, createFunc(name))
	}
}

func createFunc(name string) func(uint16, string, []config.Option) error {
	return func(devNum uint16, _ string, options []config.Option) error {
		return create(name, devNum, options)
	}
}

// Build a new device, used by configuration and tests.
func newDevice(name string, devNum uint16) (*ModelCKDctx, error) {
	model := geometry.Lookup(name)
	if model == nil {
		return nil, errors.New("unknown disk model: " + name)
	}
	device := &ModelCKDctx{
		addr:    devNum,
		model:   model,
		cu:      geometry.LookupCU(model.CU),
		cache:   cache.Default(),
		cyls:    model.TotalCyls(),
		heads:   model.Heads,
		trkSize: model.TrackSize(),
		curTrk:  -1,
		slot:    -1,
	}
	return device, nil
}

// Create a disk device.
func create(name string, devNum uint16, options []config.Option) error {
	device, err := newDevice(name, devNum)
	if err != nil {
		return err
	}
	fileName := ""
	for _, option := range options {
		switch strings.ToUpper(option.Name) {
		case "FILE":
			if option.EqualOpt == "" {
				return errors.New("file option missing filename")
			}
			fileName = option.EqualOpt
		case "RO":
			device.readOnly = true
		case "STRICT":
			device.strict = true
		case "SHARED":
			device.shared = true
		default:
			return errors.New(name + " invalid option " + option.Name)
		}
		if option.Value != nil {
			return errors.New("extra options not supported on: " + option.Name)
		}
	}

	if fileName != "" {
		if err = device.attach(fileName); err != nil {
			return err
		}
	}
	err = ch.AddDevice(device, devNum)
	if err != nil {
		if device.image != nil {
			_ = device.Detach()
		}
		return fmt.Errorf("unable to create %s at %03x: %w", name, devNum, err)
	}
	return nil
}
