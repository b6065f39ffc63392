//go:build !no_automation

package automation

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"p2p-go-home/internal/ctrl"
	"p2p-go-home/internal/manager"
	"p2p-go-home/internal/p2p"
	"p2p-go-home/internal/store"

	lua "github.com/yuin/gopher-lua"
)

const lineDeviceFound = "P2P-DEVICE-FOUND fa:7b:7a:42:02:13 p2p_dev_addr=fa:7b:7a:42:02:13 " +
	"pri_dev_type=7-0050F204-1 name='Living Room TV' config_methods=0x188 dev_capab=0x25 group_capab=0x1"

// recordConn answers OK to every command and records what was sent.
type recordConn struct {
	mu   sync.Mutex
	sent []string
}

func (c *recordConn) Request(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, cmd)
	if cmd == ctrl.ListNetworksCmd {
		return "network id / ssid / bssid / flags\n", nil
	}
	return "OK", nil
}

func (c *recordConn) OnEvent(func(string)) {}

func (c *recordConn) Close() error { return nil }

func (c *recordConn) has(cmd string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sent {
		if s == cmd {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T) (*Engine, *manager.Manager, *recordConn) {
	t.Helper()
	logger := testLogger()

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "p2p.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	conn := &recordConn{}
	mgr, err := manager.New(conn, st, nil, manager.NewEventBus(logger), manager.Config{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Stop)

	scripts, err := NewScriptStore(filepath.Join(t.TempDir(), "scripts"), logger)
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(mgr, scripts, logger), mgr, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunLuaCodeCapturesLogs(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`p2p.log("hello") system.log("warn", "careful")`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if strings.Join(res.Logs, "|") != "hello|[warn] careful" {
		t.Errorf("logs = %q", res.Logs)
	}
	if res.Duration == "" {
		t.Error("duration not set")
	}
}

func TestRunLuaCodeError(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`p2p.log("before") error("boom")`)
	if res.OK {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("error = %q", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "before" {
		t.Errorf("logs = %q, want output before the error", res.Logs)
	}
}

func TestRunLuaCodeSandbox(t *testing.T) {
	e, _, _ := newTestEngine(t)

	for _, code := range []string{
		`os.time()`,
		`io.write("x")`,
		`require("os")`,
		`dofile("/etc/passwd")`,
		`load("return 1")()`,
		`debug.traceback()`,
	} {
		if res := e.RunLuaCode(code); res.OK {
			t.Errorf("%s: ran outside the sandbox", code)
		}
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
p2p.on("device_found", {addr = "fa:7b:7a:42:02:13"}, function(ev)
    p2p.log(ev.type .. " " .. ev.addr .. " " .. tostring(ev.synthetic))
end)
p2p.on("find_state", function(ev)
    p2p.log("find " .. ev.type)
end)`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := "device_found FA:7B:7A:42:02:13 true|find find_state"
	if strings.Join(res.Logs, "|") != want {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
}

func TestRunLuaCodeHandlerLimit(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`for i = 1, 101 do p2p.on("device_found", function() end) end`)
	if res.OK || !strings.Contains(res.Error, "too many handlers") {
		t.Errorf("result = %+v, want handler limit error", res)
	}
}

func TestP2PModuleQueriesAndCommands(t *testing.T) {
	e, mgr, conn := newTestEngine(t)
	mgr.HandleLine(lineDeviceFound)

	res := e.RunLuaCode(`
local d = p2p.devices()
p2p.log(#d .. " " .. d[1].display_name .. " " .. tostring(d[1].pbc) .. " " .. d[1].status)
p2p.log(tostring(p2p.find()))
p2p.log(tostring(p2p.connect("living room tv")))
local ok, err = p2p.connect("Nobody")
p2p.log(tostring(ok) .. " " .. err)
p2p.log(#p2p.groups() .. " " .. #p2p.active_groups())`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{
		"1 Living Room TV true available",
		"true",
		"true",
		"false peer not found: Nobody",
		"0 0",
	}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
	if !conn.has("P2P_FIND") {
		t.Error("P2P_FIND not sent")
	}
	if !conn.has("P2P_CONNECT fa:7b:7a:42:02:13 pbc") {
		t.Errorf("connect not sent: %v", conn.sent)
	}
}

func TestEngineDispatchesEvents(t *testing.T) {
	e, mgr, conn := newTestEngine(t)

	_, err := e.scripts.Save(&Script{
		Meta: ScriptMeta{Name: "Reconnect TV", Enabled: true},
		LuaCode: `p2p.on("device_found", {name = "Living Room TV"}, function(ev)
    p2p.connect(ev.addr, true)
end)`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.scripts.Save(&Script{
		Meta:    ScriptMeta{Name: "Disabled", Enabled: false},
		LuaCode: `p2p.on("device_found", function() p2p.find() end)`,
	}); err != nil {
		t.Fatal(err)
	}

	e.Start()
	defer e.Stop()

	if got := e.Running(); len(got) != 1 || got[0] != "reconnect_tv" {
		t.Fatalf("running = %v, want [reconnect_tv]", got)
	}

	mgr.HandleLine(lineDeviceFound)
	waitFor(t, "persistent connect", func() bool {
		return conn.has("P2P_CONNECT fa:7b:7a:42:02:13 pbc persistent")
	})
	if conn.has("P2P_FIND") {
		t.Error("disabled script ran")
	}
}

func TestEngineReloadAndStop(t *testing.T) {
	e, _, _ := newTestEngine(t)
	s, err := e.scripts.Save(&Script{Meta: ScriptMeta{Name: "S", Enabled: true}, LuaCode: `p2p.log("x")`})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if len(e.Running()) != 1 {
		t.Fatalf("running = %v", e.Running())
	}

	s.Meta.Enabled = false
	if _, err := e.scripts.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if len(e.Running()) != 0 {
		t.Errorf("disabled script still running: %v", e.Running())
	}

	if err := e.ReloadScript("missing"); err == nil {
		t.Error("reload of missing script succeeded")
	}

	bad, err := e.scripts.Save(&Script{Meta: ScriptMeta{Name: "Bad", Enabled: true}, LuaCode: `this is not lua`})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(bad.ID); err == nil {
		t.Error("reload of broken script succeeded")
	}
}

func TestMatchesHandler(t *testing.T) {
	found := manager.Event{Type: "device_found", Data: map[string]any{
		"addr":         "FA:7B:7A:42:02:13",
		"name":         "Living Room TV",
		"display_name": "Den",
	}}
	invite := manager.Event{Type: "invitation_received", Data: map[string]any{
		"source": "02:00:00:00:00:01",
	}}

	tests := []struct {
		name    string
		handler luaEventHandler
		event   manager.Event
		want    bool
	}{
		{"type only", luaEventHandler{eventType: "device_found"}, found, true},
		{"wrong type", luaEventHandler{eventType: "device_lost"}, found, false},
		{"wildcard", luaEventHandler{eventType: "*"}, invite, true},
		{"addr any case", luaEventHandler{eventType: "device_found", addr: "fa:7b:7a:42:02:13"}, found, true},
		{"addr mismatch", luaEventHandler{eventType: "device_found", addr: "02:00:00:00:00:09"}, found, false},
		{"addr matches source", luaEventHandler{eventType: "invitation_received", addr: "02:00:00:00:00:01"}, invite, true},
		{"advertised name", luaEventHandler{eventType: "device_found", name: "living room tv"}, found, true},
		{"alias", luaEventHandler{eventType: "device_found", name: "Den"}, found, true},
		{"name mismatch", luaEventHandler{eventType: "device_found", name: "Kitchen"}, found, false},
		{"name filter without name", luaEventHandler{eventType: "invitation_received", name: "x"}, invite, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.handler, tt.event); got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  any
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"uint16", uint16(1024), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"map", map[string]any{"a": 1}, lua.LTTable},
		{"strings", []string{"a", "b"}, lua.LTTable},
		{"slice", []any{1, 2, 3}, lua.LTTable},
		{"stringer", p2p.StatusConnected, lua.LTString},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val); got.Type() != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got.Type(), tt.want)
			}
		})
	}
}

func TestGoToLuaValues(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl, ok := goToLua(L, map[string]any{"clients": []string{"A", "B"}, "n": 2}).(*lua.LTable)
	if !ok {
		t.Fatal("expected LTable")
	}
	clients, ok := tbl.RawGetString("clients").(*lua.LTable)
	if !ok || clients.Len() != 2 || clients.RawGetInt(1).String() != "A" {
		t.Errorf("clients = %v", tbl.RawGetString("clients"))
	}
	if n, ok := tbl.RawGetString("n").(lua.LNumber); !ok || n != 2 {
		t.Errorf("n = %v", tbl.RawGetString("n"))
	}
	if v := goToLua(L, p2p.StatusConnected); v.String() != "connected" {
		t.Errorf("status = %v, want connected", v)
	}
}
