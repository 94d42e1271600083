/*
 * S370 - Command parser.
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
	"io"
	"strings"
	"sync"
	"unicode"

	command "github.com/rcornwell/S370dasd/command/command"
	mem "github.com/rcornwell/S370dasd/emu/memory"
	ch "github.com/rcornwell/S370dasd/emu/sys_channel"
)

// State shared by console commands.
type Console struct {
	Mem *mem.Memory // Storage for IPL and examine
	Out io.Writer   // Command output
}

type cmd struct {
	Name     string // Command name.
	Min      int    // Minimum match size.
	Process  func(*cmdLine, *Console) (bool, error)
	Complete func(*cmdLine) []string
}

type cmdLine struct {
	line string // Current command.
	pos  int    // Position in line.
}

// Local and remote consoles run one command at a time.
var cmdLock sync.Mutex

// Execute the command line given, returns true when console should exit.
func ProcessCommand(commandLine string, console *Console) (bool, error) {
	line := cmdLine{line: commandLine}
	command := line.getWord(false)
	if command == "" {
		line.skipSpace()
		if line.isEOL() {
			return false, nil
		}
		return false, errors.New("command must start with a name")
	}

	cmdLock.Lock()
	defer cmdLock.Unlock()
	match := matchList(command)
	if len(match) == 0 {
		return false, errors.New("command not found: " + command)
	}

	if len(match) > 1 {
		return false, errors.New("unique command not found: " + command)
	}

	return match[0].Process(&line, console)
}

// Check if command matches at least to minimum length.
func matchCommand(match cmd, command string) bool {
	if len(command) > len(match.Name) {
		return false
	}
	return strings.HasPrefix(match.Name, command) && len(command) >= match.Min
}

// Check if command matches one of the commands.
func matchList(command string) []cmd {
	// If command empty just return.
	if command == "" {
		return []cmd{}
	}

	// Try and match one command.
	var match []cmd
	for _, m := range cmdList {
		if m.Name == command {
			return []cmd{m}
		}
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

// Match list of options.
func matchOption(option string, optList []command.Options, cmdType int) command.Options {
	for _, opt := range optList {
		if (opt.OptionValid & cmdType) == 0 {
			continue
		}
		if opt.Name == option {
			return opt
		}
	}
	return command.Options{OptionType: -1}
}

// Skip forward over line until none whitespace character found.
func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *cmdLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Check if at separator between words.
func (line *cmdLine) isSep() bool {
	return line.isEOL() || unicode.IsSpace(rune(line.line[line.pos]))
}

// Parse string that is "string" or just string.
func (line *cmdLine) parseQuoteString() (string, bool) {
	if line.isEOL() {
		return "", false
	}
	if line.line[line.pos] != '"' {
		start := line.pos
		for !line.isSep() {
			line.pos++
		}
		return line.line[start:line.pos], true
	}

	var value strings.Builder
	line.pos++
	for line.pos < len(line.line) {
		by := line.line[line.pos]
		line.pos++
		if by == '"' {
			// "" is a quote inside the string.
			if line.pos >= len(line.line) || line.line[line.pos] != '"' {
				return value.String(), true
			}
			line.pos++
		}
		value.WriteByte(by)
	}
	return value.String(), false
}

// Parse a decimal number.
func (line *cmdLine) getNumber() (uint32, error) {
	line.skipSpace()

	// Check if end of line.
	if line.isEOL() {
		return 0, errors.New("not a number")
	}

	pos := line.pos
	value := uint32(0)
	for !line.isSep() {
		by := line.line[line.pos]
		if !unicode.IsDigit(rune(by)) {
			line.pos = pos
			return 0, errors.New("not a number")
		}
		value = (value * 10) + uint32(by-'0')
		line.pos++
	}
	return value, nil
}

const hexDigits = "0123456789abcdef"

// Parse hex number.
func (line *cmdLine) getHex() (uint32, error) {
	line.skipSpace()
	if line.isEOL() {
		return 0, errors.New("not a number")
	}

	pos := line.pos
	value := uint32(0)
	for !line.isSep() {
		digit := strings.IndexByte(hexDigits, byte(unicode.ToLower(rune(line.line[line.pos]))))
		if digit == -1 || value > 0x0fffffff {
			line.pos = pos
			return 0, errors.New("not a number")
		}
		value = (value << 4) + uint32(digit)
		line.pos++
	}
	return value, nil
}

// Parse option name, stops at = when equal is set.
func (line *cmdLine) getWord(equal bool) string {
	line.skipSpace()

	// Characters must be alphabetic
	pos := line.pos
	for !line.isSep() {
		by := line.line[line.pos]
		if by == '=' && equal {
			break
		}
		if !unicode.IsLetter(rune(by)) {
			line.pos = pos
			return ""
		}
		line.pos++
	}
	return strings.ToLower(line.line[pos:line.pos])
}

// Get an option.
func (line *cmdLine) getOption(opts []command.Options, cmdType int) (*command.CmdOption, error) {
	line.skipSpace()
	if line.isEOL() {
		return nil, nil
	}

	// Get a word, stoping at equal or space.
	name := line.getWord(true)
	if name == "" {
		if cmdType == command.ValidAttach {
			// For attach commands, a bare name is a file name.
			file, ok := line.parseQuoteString()
			if !ok {
				return nil, errors.New("invalid file name")
			}
			return &command.CmdOption{Name: "file", EqualOpt: file}, nil
		}
		return nil, errors.New("invalid option")
	}

	opt := command.CmdOption{Name: name}
	match := matchOption(name, opts, cmdType)
	switch match.OptionType {
	case -1:
		return nil, errors.New("unknown option: " + name)
	case command.OptionSwitch:
		if !line.isSep() {
			return nil, errors.New("switch option can't have arguments: " + name)
		}
	case command.OptionFile, command.OptionName:
		if line.isEOL() || line.line[line.pos] != '=' {
			return nil, errors.New("option must be followed by =: " + name)
		}
		line.pos++
		value, ok := line.parseQuoteString()
		if !ok || value == "" {
			return nil, errors.New("option value not valid: " + name)
		}
		opt.EqualOpt = value
	case command.OptionNumber:
		if line.isEOL() || line.line[line.pos] != '=' {
			return nil, errors.New("number options must be followed by number: " + name)
		}
		line.pos++
		num, err := line.getNumber()
		if err != nil {
			return nil, errors.New("number options must be followed by number: " + name)
		}
		opt.Value = int(num)
	case command.OptionList:
		if line.isEOL() || line.line[line.pos] != '=' {
			return nil, errors.New("list options must be followed by name: " + name)
		}
		line.pos++
		value := line.getWord(false)
		for _, mod := range match.OptionList {
			if strings.ToLower(mod) == value {
				opt.EqualOpt = value
				return &opt, nil
			}
		}
		return nil, errors.New("option not valid for type: " + name)
	default:
		return nil, errors.New("invalid option type: " + name)
	}
	return &opt, nil
}

// Scan options and return a list of options.
func (line *cmdLine) getOptions(device command.Command, cmdType int) ([]*command.CmdOption, error) {
	optlist := []*command.CmdOption{}
	opts := device.Options("")
	for {
		opt, err := line.getOption(opts, cmdType)
		if err != nil {
			return optlist, err
		}
		if opt == nil {
			return optlist, nil
		}
		optlist = append(optlist, opt)
	}
}

// Get device number.
func (line *cmdLine) getDevNum() (uint16, error) {
	devNum, err := line.getHex()
	if err != nil {
		return 0, errors.New("device must be number")
	}
	if devNum > 0xfff {
		return 0, errors.New("device number too large")
	}
	return uint16(devNum), nil
}

// Return command interface of device.
func getCommand(devNum uint16) (command.Command, error) {
	device, err := ch.GetDevice(devNum)
	if err != nil {
		return nil, err
	}
	cmd, ok := device.(command.Command)
	if !ok {
		return nil, fmt.Errorf("device %03x does not support commands", devNum)
	}
	return cmd, nil
}

// Return pointer to command interface to device.
func (line *cmdLine) getDevice() (command.Command, error) {
	devNum, err := line.getDevNum()
	if err != nil {
		return nil, err
	}
	return getCommand(devNum)
}
