/*
 * S370 - Main process.
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


package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	getopt "github.com/pborman/getopt/v2"
	command "github.com/rcornwell/S370dasd/command/command"
	parser "github.com/rcornwell/S370dasd/command/parser"
	reader "github.com/rcornwell/S370dasd/command/reader"
	config "github.com/rcornwell/S370dasd/config/configparser"
	control "github.com/rcornwell/S370dasd/control"
	memory "github.com/rcornwell/S370dasd/emu/memory"
	syschannel "github.com/rcornwell/S370dasd/emu/sys_channel"
	telnet "github.com/rcornwell/S370dasd/telnet"
	debug "github.com/rcornwell/S370dasd/util/debug"
	logger "github.com/rcornwell/S370dasd/util/logger"

	_ "github.com/rcornwell/S370dasd/config/debugconfig"
	_ "github.com/rcornwell/S370dasd/emu/modelCKD"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "S370.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optAPI := getopt.StringLong("api", 'a', "", "Control API listen address")
	optTelnet := getopt.StringLong("telnet", 't', "", "Telnet console listen address")
	optMem := getopt.IntLong("memory", 'm', 1024, "Storage size in K")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	logFile, err := logger.Setup(*optLogFile, *optDebug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()

	slog.Info("S370 DASD Started")
	if _, err = os.Stat(*optConfig); errors.Is(err, os.ErrNotExist) {
		slog.Error("Configuration file " + *optConfig + " can't be found")
		os.Exit(1)
	}

	syschannel.InitializeChannels()
	if err = config.LoadConfigFile(*optConfig); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	syschannel.ResetChannels()

	var api *control.Server
	if *optAPI != "" {
		api = control.NewServer(*optAPI)
		go func() {
			if err := api.Serve(); err != nil {
				slog.Error("Control API: " + err.Error())
			}
		}()
	}

	storage := memory.New(*optMem)
	telnetAddr := *optTelnet
	if telnetAddr == "" && telnet.Port() != "" {
		telnetAddr = ":" + telnet.Port()
	}
	var remote *telnet.Server
	if telnetAddr != "" {
		remote, err = telnet.Start(telnetAddr, storage)
		if err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
	}

	console := &parser.Console{Mem: storage, Out: os.Stdout}
	history := ""
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".s370dasd_history")
	}
	reader.ConsoleReader(console, history)

	if remote != nil {
		remote.Stop()
	}
	if api != nil {
		if err = api.Stop(); err != nil {
			slog.Error(err.Error())
		}
	}
	shutdown()
	slog.Info("Servers stopped.")
}

// Write back and detach all devices.
func shutdown() {
	for _, devNum := range syschannel.Devices() {
		device, err := syschannel.GetDevice(devNum)
		if err != nil {
			continue
		}
		if cmd, ok := device.(command.Command); ok {
			if err = cmd.Detach(); err != nil {
				slog.Error(fmt.Sprintf("detach %03x: %v", devNum, err))
			}
		}
	}
	if err := debug.Close(); err != nil {
		slog.Error(err.Error())
	}
}
