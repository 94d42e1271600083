/*
 * S370 - DASD control API test cases.
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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	config "github.com/rcornwell/S370dasd/config/configparser"
	"github.com/rcornwell/S370dasd/emu/geometry"
	modelckd "github.com/rcornwell/S370dasd/emu/modelCKD"
	ch "github.com/rcornwell/S370dasd/emu/sys_channel"
	"github.com/rcornwell/S370dasd/util/ckdimage"
)

func setupServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	name := filepath.Join(t.TempDir(), "vol.ckd")
	if err := ckdimage.Create(name, geometry.Lookup("3390"), 10, "API001"); err != nil {
		t.Fatal(err)
	}
	ch.InitializeChannels()
	if err := ch.AddChannel(2, ch.TypeSel, 0); err != nil {
		t.Fatal(err)
	}
	if err := config.CreateDevice("3390 290 file=" + name); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewServer("localhost").Router())
	t.Cleanup(func() {
		srv.Close()
		if device, err := ch.GetDevice(0x290); err == nil {
			if d, ok := device.(*modelckd.ModelCKDctx); ok {
				_ = d.Detach()
			}
		}
		ch.InitializeChannels()
	})
	return srv, name
}

func get(t *testing.T, method, url string, asJSON bool) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if asJSON {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestNewServer(t *testing.T) {
	if s := NewServer("localhost"); s.address != "localhost:8370" {
		t.Errorf("default port got: %s", s.address)
	}
	if s := NewServer(":9000"); s.address != ":9000" {
		t.Errorf("address got: %s", s.address)
	}
	if err := NewServer(":0").Stop(); err != nil {
		t.Errorf("stop of idle server: %v", err)
	}
}

func TestStatus(t *testing.T) {
	srv, name := setupServer(t)

	code, body := get(t, http.MethodGet, srv.URL+"/status", false)
	if code != http.StatusOK || body != "290: 3390 10 cyl RW "+name+"\n" {
		t.Errorf("status got: %d %q", code, body)
	}

	code, body = get(t, http.MethodGet, srv.URL+"/status", true)
	var list []modelckd.Status
	if err := json.Unmarshal([]byte(body), &list); err != nil || code != http.StatusOK {
		t.Fatalf("status json got: %d %v", code, err)
	}
	if len(list) != 1 || list[0].Model != "3390" || !list[0].Attached || list[0].File != name {
		t.Errorf("status json got: %+v", list)
	}
}

func TestDasd(t *testing.T) {
	srv, _ := setupServer(t)

	code, body := get(t, http.MethodGet, srv.URL+"/dasd/290", true)
	var st modelckd.Status
	if err := json.Unmarshal([]byte(body), &st); err != nil || code != http.StatusOK {
		t.Fatalf("dasd got: %d %v", code, err)
	}
	if st.Cyls != 10 || st.ReadOnly {
		t.Errorf("dasd got: %+v", st)
	}

	if code, _ = get(t, http.MethodGet, srv.URL+"/dasd/291", false); code != http.StatusNotFound {
		t.Errorf("missing device got: %d", code)
	}
	if code, _ = get(t, http.MethodGet, srv.URL+"/dasd/xyz", false); code != http.StatusNotFound {
		t.Errorf("bad address got: %d", code)
	}
	if code, _ = get(t, http.MethodPut, srv.URL+"/dasd/290/flush", false); code != http.StatusOK {
		t.Errorf("flush got: %d", code)
	}
	if code, _ = get(t, http.MethodGet, srv.URL+"/dasd/290/flush", false); code != http.StatusMethodNotAllowed {
		t.Errorf("flush with get got: %d", code)
	}
}

func TestTrackAndCache(t *testing.T) {
	srv, _ := setupServer(t)

	code, body := get(t, http.MethodGet, srv.URL+"/dasd/290/track/0/0", false)
	if code != http.StatusOK || !strings.HasPrefix(body, "00000000  ") {
		t.Errorf("track got: %d %q", code, body[:min(len(body), 40)])
	}
	if code, _ = get(t, http.MethodGet, srv.URL+"/dasd/290/track/99/0", false); code != http.StatusUnprocessableEntity {
		t.Errorf("track outside device got: %d", code)
	}

	code, body = get(t, http.MethodGet, srv.URL+"/cache", true)
	var st struct {
		Slots int `json:"slots"`
	}
	if err := json.Unmarshal([]byte(body), &st); err != nil || code != http.StatusOK || st.Slots == 0 {
		t.Errorf("cache got: %d %q", code, body)
	}
}
