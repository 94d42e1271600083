/*
 * S370 - Device interface and common channel definitions
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

package device

// One channel command handed to a device.
type CCW struct {
	Code     uint8 // Command code
	Flags    uint8 // CCW flags of this command
	Chained  uint8 // Chain flags of previous CCW, 0 at start of chain
	PrevCode uint8 // Command code of previous CCW
	Count    int   // Requested byte count
	Seq      int   // Position of CCW in chain
}

// Interface for devices to handle commands.
type Device interface {
	StartIO() uint8
	ExecuteCCW(ccw *CCW, buf []byte) (status uint8, residual int, more bool)
	HaltIO() uint8
	InitDev() uint8
	Debug(opt string) error
}

const (
	NoDev uint16 = 0xffff // Code for no device

	// CCW flags.
	FlagCD   uint8 = 0x80 // Chain data
	FlagCC   uint8 = 0x40 // Chain command
	FlagSLI  uint8 = 0x20 // Suppress length indicator
	FlagSkip uint8 = 0x10 // Suppress memory write
	FlagPCI  uint8 = 0x08 // Program controlled interrupt
	FlagIDA  uint8 = 0x04 // Channel indirect

	// Common Channel sense bytes.
	CStatusAttn   uint8 = 0x80 // Unit attention
	CStatusSMS    uint8 = 0x40 // Status modifier
	CStatusCtlEnd uint8 = 0x20 // Control unit end
	CStatusBusy   uint8 = 0x10 // Unit Busy
	CStatusChnEnd uint8 = 0x08 // Channel end
	CStatusDevEnd uint8 = 0x04 // Device end
	CStatusCheck  uint8 = 0x02 // Unit check
	CStatusExpt   uint8 = 0x01 // Unit exception

	// Command masks.
	CmdWrite uint8 = 0x1 // Write command
	CmdRead  uint8 = 0x2 // Read command
	CmdCTL   uint8 = 0x3 // Control command
	CmdSense uint8 = 0x4 // Sense channel command
	CmdTIC   uint8 = 0x8 // Transfer in channel
	CmdRDBWD uint8 = 0xc // Read backward

	// Basic sense information.
	SenseCMDREJ  uint8 = 0x80 // Command reject
	SenseINTVENT uint8 = 0x40 // Unit intervention required
	SenseBUSCHK  uint8 = 0x20 // Parity error on bus
	SenseEQUCHK  uint8 = 0x10 // Equipment check
	SenseDATCHK  uint8 = 0x08 // Data Check
	SenseUNITSPC uint8 = 0x04 // Specific to unit
	SenseCTLCHK  uint8 = 0x02 // Timeout on device
	SenseOVRRUN  uint8 = 0x02 // Data Overrun
	SenseOPRCHK  uint8 = 0x01 // Invalid operation to device
)
