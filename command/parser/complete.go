/*
 * S370 - Command completion functions.
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
	"fmt"
	"slices"
	"strings"
	"unicode"

	command "github.com/rcornwell/S370dasd/command/command"
	ch "github.com/rcornwell/S370dasd/emu/sys_channel"
)

// Called to complete a command line, during line editing.
func CompleteCmd(commandLine string) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord(false)

	// We have a command, let it try and complete it.
	if line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		// See if there is a completer for this command.
		match := matchList(name)
		if len(match) != 1 || match[0].Complete == nil {
			return nil
		}
		line.skipSpace()
		return match[0].Complete(&line)
	}

	// Try and match one command.
	var matches []string
	for _, m := range cmdList {
		if strings.HasPrefix(m.Name, name) {
			matches = append(matches, m.Name+" ")
		}
	}
	slices.Sort(matches)
	return matches
}

// Check if device has options for command type.
func validFor(device command.Command, cmdType int) bool {
	for _, opt := range device.Options("") {
		if (opt.OptionValid & cmdType) != 0 {
			return true
		}
	}
	return false
}

// Match for device address, all includes devices without options.
func (line *cmdLine) matchDevice(cmdType int, all bool) []string {
	line.skipSpace()
	leading := line.line[:line.pos]
	start := line.pos
	for !line.isSep() {
		line.pos++
	}
	prefix := strings.ToLower(line.line[start:line.pos])
	line.pos = start // Restore position before number

	devices := []string{}
	for _, devNum := range ch.Devices() {
		str := fmt.Sprintf("%03x", devNum)
		if !strings.HasPrefix(str, prefix) {
			continue
		}
		if !all {
			device, err := getCommand(devNum)
			if err != nil || !validFor(device, cmdType) {
				continue
			}
		}
		devices = append(devices, leading+str+" ")
	}
	return devices
}

// Complete device number then options for command type.
func (line *cmdLine) scanDevice(cmdType int) []string {
	devices := line.matchDevice(cmdType, false)
	start := line.pos
	for !line.isSep() {
		line.pos++
	}

	// Still typing device number.
	if line.pos >= len(line.line) {
		return devices
	}
	line.pos = start
	device, err := line.getDevice()
	if err != nil {
		return nil
	}
	return line.scanOpts(device, cmdType)
}

// Complete last option name on line.
func (line *cmdLine) scanOpts(device command.Command, cmdType int) []string {
	line.skipSpace()
	last := line.pos
	for line.pos < len(line.line) {
		if unicode.IsSpace(rune(line.line[line.pos])) {
			line.skipSpace()
			last = line.pos
			continue
		}
		line.pos++
	}
	leading := line.line[:last]
	word := strings.ToLower(line.line[last:])

	list := []string{}
	for _, opt := range device.Options("") {
		if (opt.OptionValid&cmdType) == 0 || !strings.HasPrefix(opt.Name, word) {
			continue
		}
		if opt.OptionType == command.OptionSwitch || cmdType == command.ValidShow {
			list = append(list, leading+opt.Name+" ")
		} else {
			list = append(list, leading+opt.Name+"=")
		}
	}
	slices.Sort(list)
	return list
}

// Complete any device number.
func DeviceComplete(line *cmdLine) []string {
	return line.matchDevice(0, true)
}
