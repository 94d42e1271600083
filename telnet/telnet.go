/*
 * S370 - Telnet operator console protocol.
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

package telnet

import (
	"bytes"
	"io"
	"log/slog"
	"net"

	"github.com/rcornwell/S370dasd/command/parser"
	mem "github.com/rcornwell/S370dasd/emu/memory"
)

// Telnet protocol constants.
const (
	tnIAC  byte = 255 // protocol delim
	tnDONT byte = 254 // dont
	tnDO   byte = 253 // do
	tnWONT byte = 252 // wont
	tnWILL byte = 251 // will
	tnSB   byte = 250 // Sub negotiations begin
	tnGA   byte = 249 // Go ahead
	tnEL   byte = 248 // Erase line
	tnEC   byte = 247 // Erase character
	tnIP   byte = 244 // Interrupt process
	tnBRK  byte = 243 // break
	tnSE   byte = 240 // Sub negotiations end
)

// Telnet line states.
const (
	tnStateData int = 1 + iota // normal
	tnStateIAC                 // IAC seen
	tnStateWILL                // WILL seen
	tnStateDO                  // DO seen
	tnStateDONT                // DONT seen
	tnStateWONT                // WONT seen
	tnStateSB                  // Skipping sub negotiation
	tnStateSBIAC               // IAC inside sub negotiation
	tnStateCR                  // CR seen
)

// Telnet options.
const (
	tnOptionBinary byte = 0  // Binary data transfer
	tnOptionEcho   byte = 1  // Echo
	tnOptionSGA    byte = 3  // Send Go Ahead
	tnOptionTerm   byte = 24 // Request Terminal Type
	tnOptionNAWS   byte = 31 // Negotiate about terminal size
	tnOptionLINE   byte = 34 // line mode
)

// Telnet flags.
const (
	tnFlagDo   uint8 = 0x01 // Do sent
	tnFlagDont uint8 = 0x02 // Don't sent
	tnFlagWill uint8 = 0x04 // Will sent
	tnFlagWont uint8 = 0x08 // Wont sent
)

const prompt = "S370> "

// Client echoes locally, no go ahead.
var initString = []byte{
	tnIAC, tnWONT, tnOptionEcho,
	tnIAC, tnWILL, tnOptionSGA,
}

// Convert option number to string.
func optName(opt byte) string {
	switch opt {
	case tnOptionBinary:
		return "bin"
	case tnOptionEcho:
		return "echo"
	case tnOptionSGA:
		return "sga"
	case tnOptionTerm:
		return "term"
	case tnOptionNAWS:
		return "naws"
	case tnOptionLINE:
		return "line"
	}
	return "unknown"
}

type tnState struct {
	optionState [256]uint8 // Current state of telnet session
	state       int        // Current line State
	out         io.Writer  // Negotiation responses
	line        []byte     // Partial input line
}

func newState(out io.Writer) *tnState {
	state := &tnState{out: out, state: tnStateData}
	state.optionState[tnOptionEcho] = tnFlagWont
	state.optionState[tnOptionSGA] = tnFlagWill
	return state
}

// Send a response to client.
func (state *tnState) sendOption(setState, option byte) {
	_, _ = state.out.Write([]byte{tnIAC, setState, option})
	switch setState {
	case tnWILL:
		state.optionState[option] |= tnFlagWill
	case tnWONT:
		state.optionState[option] |= tnFlagWont
	case tnDO:
		state.optionState[option] |= tnFlagDo
	case tnDONT:
		state.optionState[option] |= tnFlagDont
	}
}

// Handle DO request, only SGA is supported.
func (state *tnState) handleDO(input byte) {
	slog.Debug("Telnet do " + optName(input))
	if input == tnOptionSGA {
		if (state.optionState[input] & tnFlagWill) == 0 {
			state.sendOption(tnWILL, input)
		}
		return
	}
	if (state.optionState[input] & tnFlagWont) == 0 {
		state.sendOption(tnWONT, input)
	}
}

// Handle WILL offer, client may suppress go ahead.
func (state *tnState) handleWILL(input byte) {
	slog.Debug("Telnet will " + optName(input))
	if input == tnOptionSGA {
		if (state.optionState[input] & tnFlagDo) == 0 {
			state.sendOption(tnDO, input)
		}
		return
	}
	if (state.optionState[input] & tnFlagDont) == 0 {
		state.sendOption(tnDONT, input)
	}
}

// Process received bytes, returns completed lines.
func (state *tnState) receive(data []byte) []string {
	var lines []string
	for _, input := range data {
		switch state.state {
		case tnStateData, tnStateCR:
			if input == tnIAC {
				state.state = tnStateIAC
				continue
			}
			// CR LF and CR NUL are a single end of line.
			if state.state == tnStateCR {
				state.state = tnStateData
				if input == '\n' || input == 0 {
					continue
				}
			}
			switch input {
			case '\r':
				state.state = tnStateCR
				lines = append(lines, string(state.line))
				state.line = state.line[:0]
			case '\n':
				lines = append(lines, string(state.line))
				state.line = state.line[:0]
			case 0x08, 0x7f:
				if len(state.line) > 0 {
					state.line = state.line[:len(state.line)-1]
				}
			default:
				if input >= 0x20 && input < 0x7f {
					state.line = append(state.line, input)
				}
			}

		case tnStateIAC: // IAC seen
			state.state = tnStateData
			switch input {
			case tnIAC:
				// Escaped 255 is not printable.
			case tnIP, tnBRK, tnEL:
				state.line = state.line[:0]
			case tnEC:
				if len(state.line) > 0 {
					state.line = state.line[:len(state.line)-1]
				}
			case tnWILL:
				state.state = tnStateWILL
			case tnWONT:
				state.state = tnStateWONT
			case tnDO:
				state.state = tnStateDO
			case tnDONT:
				state.state = tnStateDONT
			case tnSB:
				state.state = tnStateSB
			}

		case tnStateWILL:
			state.handleWILL(input)
			state.state = tnStateData

		case tnStateWONT:
			slog.Debug("Telnet wont " + optName(input))
			state.state = tnStateData

		case tnStateDO:
			state.handleDO(input)
			state.state = tnStateData

		case tnStateDONT:
			slog.Debug("Telnet dont " + optName(input))
			state.state = tnStateData

		case tnStateSB:
			if input == tnIAC {
				state.state = tnStateSBIAC
			}

		case tnStateSBIAC:
			if input == tnSE {
				state.state = tnStateData
			} else {
				state.state = tnStateSB
			}
		}
	}
	return lines
}

// Writer that turns newlines into CR LF.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	_, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n")))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Handle client connection.
func handleClient(conn net.Conn, memory *mem.Memory) {
	defer conn.Close()

	out := crlfWriter{w: conn}
	console := &parser.Console{Mem: memory, Out: out}
	state := newState(conn)
	buffer := make([]byte, 1024)

	_, _ = conn.Write(initString)
	_, _ = io.WriteString(conn, prompt)
	for {
		num, err := conn.Read(buffer)
		if err != nil {
			return
		}
		for _, line := range state.receive(buffer[:num]) {
			slog.Debug("Telnet command: " + line)
			quit, err := parser.ProcessCommand(line, console)
			if err != nil {
				_, _ = io.WriteString(out, "Error: "+err.Error()+"\n")
			}
			if quit {
				return
			}
			_, _ = io.WriteString(conn, prompt)
		}
	}
}
