/*
 * S370 - Telnet operator console configuration.
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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	config "github.com/rcornwell/S370dasd/config/configparser"
)

var (
	cfgLock     sync.Mutex
	consolePort string
	maxSessions int
)

// Port console listens on, empty if none configured.
func Port() string {
	cfgLock.Lock()
	defer cfgLock.Unlock()
	return consolePort
}

// Limit on concurrent sessions, 0 for no limit.
func MaxSessions() int {
	cfgLock.Lock()
	defer cfgLock.Unlock()
	return maxSessions
}

// register console port on initialize.
func init() {
	config.RegisterModel("TELNET", config.TypeOptions, setPort)
}

// Set console port, TELNET <port> [MAX=<sessions>].
func setPort(_ uint16, port string, options []config.Option) error {
	num, err := strconv.ParseUint(port, 10, 16)
	if err != nil || num == 0 {
		return fmt.Errorf("telnet requires port number: %s", port)
	}
	limit := 0
	for _, opt := range options {
		if !strings.EqualFold(opt.Name, "MAX") || len(opt.Value) != 0 {
			return errors.New("telnet only takes MAX=sessions option: " + opt.Name)
		}
		limit, err = strconv.Atoi(opt.EqualOpt)
		if err != nil || limit < 0 {
			return errors.New("telnet MAX requires number: " + opt.EqualOpt)
		}
	}

	cfgLock.Lock()
	defer cfgLock.Unlock()
	if consolePort != "" {
		return errors.New("can't have more then one telnet port")
	}
	consolePort = port
	maxSessions = limit
	return nil
}

// Clear configured port.
func resetConfig() {
	cfgLock.Lock()
	defer cfgLock.Unlock()
	consolePort = ""
	maxSessions = 0
}
