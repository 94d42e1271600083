/*
 * S370 - Debug configuration options.
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

package debugconfig

import (
	"errors"
	"strconv"
	"strings"

	config "github.com/rcornwell/S370dasd/config/configparser"
	dev "github.com/rcornwell/S370dasd/emu/device"
	ch "github.com/rcornwell/S370dasd/emu/sys_channel"
)

// register a device on initialize.
func init() {
	config.RegisterModel("DEBUG", config.TypeOptions, setDebug)
}

// Apply option and any comma values to set function.
func apply(options []config.Option, set func(string) error) error {
	for _, opt := range options {
		err := set(strings.ToUpper(opt.Name))
		if err != nil {
			return err
		}
		for _, value := range opt.Value {
			err = set(strings.ToUpper(*value))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Set debug options for channel or device.
func setDebug(devNum uint16, device string, options []config.Option) error {
	name := strings.ToUpper(device)
	if number, ok := strings.CutPrefix(name, "CHANNEL"); ok {
		// Process Channel debug options, number follows name.
		cNum, err := strconv.ParseUint(number, 10, 4)
		if err != nil {
			return errors.New("channel number must be a number: " + device)
		}
		if len(options) == 0 {
			return errors.New("debug requires options for channel: " + number)
		}
		return apply(options, func(opt string) error {
			return ch.Debug(int(cNum), opt)
		})
	}

	if devNum == dev.NoDev {
		return errors.New("debug option invalid: " + device)
	}
	d, err := ch.GetDevice(devNum)
	if err != nil {
		return err
	}
	if len(options) == 0 {
		return errors.New("debug requires options for device: " + device)
	}
	return apply(options, d.Debug)
}
