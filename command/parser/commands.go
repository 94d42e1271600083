/*
 * S370 - Command executer.
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

package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	command "github.com/rcornwell/S370dasd/command/command"
	"github.com/rcornwell/S370dasd/emu/cache"
	ch "github.com/rcornwell/S370dasd/emu/sys_channel"
	"github.com/rcornwell/S370dasd/util/hex"
)

var cmdList = []cmd{
	{Name: "attach", Min: 2, Process: attach, Complete: func(line *cmdLine) []string {
		return line.scanDevice(command.ValidAttach)
	}},
	{Name: "detach", Min: 2, Process: detach, Complete: func(line *cmdLine) []string {
		return line.matchDevice(command.ValidAttach, false)
	}},
	{Name: "set", Min: 3, Process: set, Complete: setComplete},
	{Name: "unset", Min: 3, Process: unset, Complete: setComplete},
	{Name: "show", Min: 2, Process: show, Complete: showComplete},
	{Name: "flush", Min: 1, Process: flush, Complete: DeviceComplete},
	{Name: "dump", Min: 2, Process: dump, Complete: DeviceComplete},
	{Name: "examine", Min: 1, Process: examine},
	{Name: "ipl", Min: 1, Process: ipl, Complete: DeviceComplete},
	{Name: "cache", Min: 1, Process: showCache},
	{Name: "quit", Min: 4, Process: quit},
}

// Devices that write back buffered data.
type flusher interface {
	Flush() error
}

// Devices that return raw tracks.
type trackReader interface {
	ReadTrack(cyl, head int) ([]byte, error)
}

// Handle attach commands.
func attach(line *cmdLine, _ *Console) (bool, error) {
	slog.Debug("Command Attach")

	// Get device number make sure it is valid.
	device, err := line.getDevice()
	if err != nil {
		return false, err
	}

	optlist, err := line.getOptions(device, command.ValidAttach)
	if err != nil {
		return false, err
	}
	if len(optlist) == 0 {
		return false, errors.New("no options give to attach command")
	}
	return false, device.Attach(optlist)
}

// Handle detach command.
func detach(line *cmdLine, _ *Console) (bool, error) {
	slog.Debug("Command Detach")

	// Get device number make sure it is valid.
	device, err := line.getDevice()
	if err != nil {
		return false, err
	}
	if err = device.Detach(); err != nil {
		return false, fmt.Errorf("detach %03x: %w", device.Addr(), err)
	}
	return false, nil
}

// Handle set and unset commands.
func setOptions(line *cmdLine, unset bool) error {
	// Get device number make sure it is valid.
	device, err := line.getDevice()
	if err != nil {
		return err
	}

	optlist, err := line.getOptions(device, command.ValidSet)
	if err != nil {
		return err
	}
	if len(optlist) == 0 {
		return errors.New("no options give to set command")
	}
	return device.Set(unset, optlist)
}

func set(line *cmdLine, _ *Console) (bool, error) {
	slog.Debug("Command Set")
	return false, setOptions(line, false)
}

func unset(line *cmdLine, _ *Console) (bool, error) {
	slog.Debug("Command Unset")
	return false, setOptions(line, true)
}

// Set/Unset command completion.
func setComplete(line *cmdLine) []string {
	return line.scanDevice(command.ValidSet)
}

// Check for empty device list or all.
func (line *cmdLine) isAll() bool {
	line.skipSpace()
	if line.isEOL() {
		return true
	}
	pos := line.pos
	if line.getWord(false) == "all" {
		return true
	}
	line.pos = pos
	return false
}

// Get options for show commands.
func (line *cmdLine) getShowOptions(device command.Command) ([]*command.CmdOption, error) {
	optlist := []*command.CmdOption{}
	opts := device.Options("")
	for {
		line.skipSpace()
		if line.isEOL() {
			return optlist, nil
		}
		name := line.getWord(false)
		if name == "" {
			return nil, errors.New("show options must be names")
		}
		match := matchOption(name, opts, command.ValidShow)
		if match.OptionType == -1 {
			return nil, errors.New("invalid option: " + name)
		}
		optlist = append(optlist, &command.CmdOption{Name: name})
	}
}

// Process the show command.
func show(line *cmdLine, console *Console) (bool, error) {
	slog.Debug("Command Show")
	if line.isAll() {
		for _, devNum := range ch.Devices() {
			device, err := getCommand(devNum)
			if err != nil {
				continue
			}
			out, err := device.Show(nil)
			if err != nil {
				continue
			}
			fmt.Fprintln(console.Out, out)
		}
		return false, nil
	}

	device, err := line.getDevice()
	if err != nil {
		return false, err
	}

	optlist, err := line.getShowOptions(device)
	if err != nil {
		return false, err
	}

	out, err := device.Show(optlist)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(console.Out, out)
	return false, nil
}

// Show command completion.
func showComplete(line *cmdLine) []string {
	return line.scanDevice(command.ValidShow)
}

// Write back modified tracks of one or all devices.
func flush(line *cmdLine, _ *Console) (bool, error) {
	slog.Debug("Command Flush")
	if line.isAll() {
		var errs []error
		for _, devNum := range ch.Devices() {
			device, err := ch.GetDevice(devNum)
			if err != nil {
				continue
			}
			if f, ok := device.(flusher); ok {
				if err = f.Flush(); err != nil {
					errs = append(errs, fmt.Errorf("%03x: %w", devNum, err))
				}
			}
		}
		return false, errors.Join(errs...)
	}

	devNum, err := line.getDevNum()
	if err != nil {
		return false, err
	}
	device, err := ch.GetDevice(devNum)
	if err != nil {
		return false, err
	}
	f, ok := device.(flusher)
	if !ok {
		return false, fmt.Errorf("device %03x has nothing to flush", devNum)
	}
	return false, f.Flush()
}

// Display a track of a disk.
func dump(line *cmdLine, console *Console) (bool, error) {
	slog.Debug("Command Dump")
	devNum, err := line.getDevNum()
	if err != nil {
		return false, err
	}
	cyl, err := line.getNumber()
	if err != nil {
		return false, errors.New("dump requires cylinder number")
	}
	head, err := line.getNumber()
	if err != nil {
		return false, errors.New("dump requires head number")
	}
	device, err := ch.GetDevice(devNum)
	if err != nil {
		return false, err
	}
	reader, ok := device.(trackReader)
	if !ok {
		return false, fmt.Errorf("device %03x is not a disk", devNum)
	}
	data, err := reader.ReadTrack(int(cyl), int(head))
	if err != nil {
		return false, err
	}

	// Unused space after end of track is not shown.
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	end = min(len(data), (end+15)&^15)
	var str strings.Builder
	fmt.Fprintf(&str, "%03x cylinder %d head %d\n", devNum, cyl, head)
	hex.Dump(&str, 0, data[:end])
	fmt.Fprint(console.Out, str.String())
	return false, nil
}

// Display storage.
func examine(line *cmdLine, console *Console) (bool, error) {
	slog.Debug("Command Examine")
	if console.Mem == nil {
		return false, errors.New("no storage defined")
	}
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("examine requires address")
	}
	length := uint32(64)
	line.skipSpace()
	if !line.isEOL() {
		length, err = line.getHex()
		if err != nil {
			return false, errors.New("examine length must be hex number")
		}
	}
	data, err := console.Mem.Read(addr, int(length))
	if err != nil {
		return false, err
	}
	var str strings.Builder
	hex.Dump(&str, int(addr), data)
	fmt.Fprint(console.Out, str.String())
	return false, nil
}

// IPL from a device.
func ipl(line *cmdLine, console *Console) (bool, error) {
	slog.Debug("Command IPL")
	if console.Mem == nil {
		return false, errors.New("no storage defined")
	}
	devNum, err := line.getDevNum()
	if err != nil {
		return false, err
	}
	csw, err := ch.IPLDevice(devNum, console.Mem)
	psw0, _ := console.Mem.GetWord(0)
	psw1, _ := console.Mem.GetWord(4)
	var str strings.Builder
	hex.FormatWord(&str, []uint32{psw0, psw1})
	fmt.Fprintf(console.Out, "IPL %03x CSW %s PSW %s\n", devNum, csw, strings.TrimSpace(str.String()))
	return false, err
}

// Show cache counters.
func showCache(_ *cmdLine, console *Console) (bool, error) {
	st := cache.Default().Stats()
	fmt.Fprintf(console.Out, "slots %d active %d hits %d misses %d waits %d\n",
		st.Slots, st.Active, st.Hits, st.Misses, st.Waits)
	return false, nil
}

// Handle commands that quit simulation.
func quit(_ *cmdLine, _ *Console) (bool, error) {
	slog.Debug("Command Quit")
	return true, nil
}
