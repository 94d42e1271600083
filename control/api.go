/*
 * S370 - DASD control API.
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

package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	command "github.com/rcornwell/S370dasd/command/command"
	"github.com/rcornwell/S370dasd/emu/cache"
	dev "github.com/rcornwell/S370dasd/emu/device"
	modelckd "github.com/rcornwell/S370dasd/emu/modelCKD"
	ch "github.com/rcornwell/S370dasd/emu/sys_channel"
	"github.com/rcornwell/S370dasd/util/hex"
)

// Default port when address has none.
const defaultPort = "8370"

// Devices that report status.
type statuser interface {
	Status() modelckd.Status
}

// Devices that write back buffered data.
type flusher interface {
	Flush() error
}

// Devices that return raw tracks.
type trackReader interface {
	ReadTrack(cyl, head int) ([]byte, error)
}

// Server for control requests.
type Server struct {
	address string
	server  *http.Server
}

func NewServer(addr string) *Server {
	if !strings.Contains(addr, ":") {
		addr += ":" + defaultPort
	}
	return &Server{address: addr}
}

// Create router with all API routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	addRoute(router, "status", http.MethodGet, "/status", s.status)
	addRoute(router, "dasd", http.MethodGet, "/dasd/{addr:[0-9a-fA-F]{1,3}}", s.dasd)
	addRoute(router, "flush", http.MethodPut, "/dasd/{addr:[0-9a-fA-F]{1,3}}/flush", s.flush)
	addRoute(router, "track", http.MethodGet,
		"/dasd/{addr:[0-9a-fA-F]{1,3}}/track/{cyl:[0-9]+}/{head:[0-9]+}", s.track)
	addRoute(router, "cache", http.MethodGet, "/cache", s.cache)
	return router
}

// Listen for requests until stopped.
func (s *Server) Serve() error {
	slog.Info("Control API listening on " + s.address)
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	slog.Info("Control API stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

func addRoute(r *mux.Router, name, method, pattern string, handler http.HandlerFunc) {
	r.Methods(method).
		Path(pattern).
		Name(name).
		Handler(requestLogger(handler, name))
}

func requestLogger(inner http.Handler, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inner.ServeHTTP(w, r)
		slog.Debug("API "+name, "remote", r.RemoteAddr, "method", r.Method,
			"path", r.RequestURI, "duration", time.Since(start))
	})
}

// Status of every device on every channel.
func (s *Server) status(w http.ResponseWriter, req *http.Request) {
	list := []modelckd.Status{}
	var text strings.Builder
	for _, devNum := range ch.Devices() {
		device, err := ch.GetDevice(devNum)
		if err != nil {
			continue
		}
		if st, ok := device.(statuser); ok {
			list = append(list, st.Status())
		}
		if cmd, ok := device.(command.Command); ok {
			if out, err := cmd.Show(nil); err == nil {
				text.WriteString(out + "\n")
			}
		}
	}
	if wantsJSON(req) {
		sendJSONReply(list, http.StatusOK, w)
	} else {
		sendReply(text.String(), http.StatusOK, w)
	}
}

// Status of one device.
func (s *Server) dasd(w http.ResponseWriter, req *http.Request) {
	device, ok := getDevice(w, req)
	if !ok {
		return
	}
	st, ok := device.(statuser)
	if !ok {
		handleError(fmt.Errorf("device %s is not a disk", mux.Vars(req)["addr"]),
			http.StatusUnprocessableEntity, w)
		return
	}
	if wantsJSON(req) {
		sendJSONReply(st.Status(), http.StatusOK, w)
		return
	}
	out := ""
	if cmd, ok := device.(command.Command); ok {
		out, _ = cmd.Show(nil)
	}
	sendReply(out+"\n", http.StatusOK, w)
}

// Write back modified track of one device.
func (s *Server) flush(w http.ResponseWriter, req *http.Request) {
	device, ok := getDevice(w, req)
	if !ok {
		return
	}
	f, ok := device.(flusher)
	if !ok {
		handleError(fmt.Errorf("device %s can't be flushed", mux.Vars(req)["addr"]),
			http.StatusUnprocessableEntity, w)
		return
	}
	if handleError(f.Flush(), http.StatusInternalServerError, w) {
		return
	}
	sendReply("flushed "+mux.Vars(req)["addr"]+"\n", http.StatusOK, w)
}

// Hex dump of one track.
func (s *Server) track(w http.ResponseWriter, req *http.Request) {
	device, ok := getDevice(w, req)
	if !ok {
		return
	}
	tr, ok := device.(trackReader)
	if !ok {
		handleError(fmt.Errorf("device %s has no tracks", mux.Vars(req)["addr"]),
			http.StatusUnprocessableEntity, w)
		return
	}
	vars := mux.Vars(req)
	cyl, _ := strconv.Atoi(vars["cyl"])
	head, _ := strconv.Atoi(vars["head"])
	data, err := tr.ReadTrack(cyl, head)
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}
	var out strings.Builder
	hex.Dump(&out, 0, data)
	sendReply(out.String(), http.StatusOK, w)
}

// Shared track cache counters.
func (s *Server) cache(w http.ResponseWriter, req *http.Request) {
	st := cache.Default().Stats()
	if wantsJSON(req) {
		sendJSONReply(st, http.StatusOK, w)
		return
	}
	sendReply(fmt.Sprintf("slots %d active %d hits %d misses %d waits %d\n",
		st.Slots, st.Active, st.Hits, st.Misses, st.Waits), http.StatusOK, w)
}

func getDevice(w http.ResponseWriter, req *http.Request) (dev.Device, bool) {
	addr, err := strconv.ParseUint(mux.Vars(req)["addr"], 16, 12)
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return nil, false
	}
	device, err := ch.GetDevice(uint16(addr))
	if handleError(err, http.StatusNotFound, w) {
		return nil, false
	}
	return device, true
}

func setHeaders(h http.Header, json bool) {
	if json {
		h.Set("Content-Type", "application/json; charset=UTF-8")
	} else {
		h.Set("Content-Type", "text/plain; charset=UTF-8")
	}
}

func handleError(e error, statusCode int, w http.ResponseWriter) bool {
	if e == nil {
		return false
	}
	slog.Error("API request failed: " + e.Error())
	setHeaders(w.Header(), false)
	w.WriteHeader(statusCode)
	if _, err := fmt.Fprintf(w, "%v\n", e); err != nil {
		slog.Error("problem writing error: " + err.Error())
	}
	return true
}

func sendReply(body string, statusCode int, w http.ResponseWriter) {
	setHeaders(w.Header(), false)
	w.WriteHeader(statusCode)
	if _, err := fmt.Fprint(w, body); err != nil {
		slog.Error("problem sending reply: " + err.Error())
	}
}

func sendJSONReply(obj interface{}, statusCode int, w http.ResponseWriter) {
	setHeaders(w.Header(), true)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		slog.Error("problem writing reply: " + err.Error())
	}
}

func wantsJSON(req *http.Request) bool {
	return strings.HasPrefix(req.Header.Get("Accept"), "application/json") ||
		req.Header.Get("Content-Type") == "application/json"
}
