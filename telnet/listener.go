/*
 * S370 - Telnet operator console listener.
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
	"log/slog"
	"net"
	"sync"
	"time"

	mem "github.com/rcornwell/S370dasd/emu/memory"
)

type Server struct {
	wg         sync.WaitGroup
	listener   net.Listener
	shutdown   chan struct{}
	connection chan net.Conn
	mem        *mem.Memory
	maxSession int

	mu       sync.Mutex
	sessions map[net.Conn]struct{}
}

// Open new listener.
func newServer(address string, memory *mem.Memory) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on address %s: %w", address, err)
	}

	return &Server{
		listener:   listener,
		shutdown:   make(chan struct{}),
		connection: make(chan net.Conn),
		mem:        memory,
		maxSession: MaxSessions(),
		sessions:   map[net.Conn]struct{}{},
	}, nil
}

// Accept a connection.
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		select {
		case <-s.shutdown:
			conn.Close()
			return
		case s.connection <- conn:
		}
	}
}

// Start processing for a new connection.
func (s *Server) handleConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		case conn := <-s.connection:
			if !s.addSession(conn) {
				slog.Warn("Telnet session limit reached, rejecting " + conn.RemoteAddr().String())
				fmt.Fprint(conn, "Too many sessions\r\n")
				conn.Close()
				continue
			}
			slog.Info("Telnet connection from " + conn.RemoteAddr().String())
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.removeSession(conn)
				handleClient(conn, s.mem)
			}()
		}
	}
}

func (s *Server) addSession(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxSession > 0 && len(s.sessions) >= s.maxSession {
		return false
	}
	s.sessions[conn] = struct{}{}
	return true
}

func (s *Server) removeSession(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conn)
	slog.Info("Telnet connection closed " + conn.RemoteAddr().String())
}

// Address server is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start a new console server.
func Start(address string, memory *mem.Memory) (*Server, error) {
	s, err := newServer(address, memory)
	if err != nil {
		return nil, err
	}
	slog.Info("Telnet console started on " + s.listener.Addr().String())

	s.wg.Add(2)
	go s.acceptConnections()
	go s.handleConnections()
	return s, nil
}

// Stop server and close all sessions.
func (s *Server) Stop() {
	slog.Info("Telnet console stopping on " + s.listener.Addr().String())
	close(s.shutdown)
	s.listener.Close()
	s.mu.Lock()
	for conn := range s.sessions {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("Timed out waiting for telnet sessions to finish")
	}
}
