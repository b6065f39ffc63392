//go:build !no_automation

package automation

import (
	"context"
	"strings"
	"time"

	"p2p-go-home/internal/manager"
	"p2p-go-home/internal/p2p"

	lua "github.com/yuin/gopher-lua"
)

const (
	maxHandlersPerScript = 100
	commandTimeout       = 5 * time.Second
)

// registerP2PModule registers the `p2p` global table in a Lua state.
func registerP2PModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return p2pOn(L, vm)
	}))
	mod.RawSetString("devices", L.NewFunction(func(L *lua.LState) int {
		return p2pDevices(L, e)
	}))
	mod.RawSetString("groups", L.NewFunction(func(L *lua.LState) int {
		return p2pGroups(L, e.mgr.Groups())
	}))
	mod.RawSetString("active_groups", L.NewFunction(func(L *lua.LState) int {
		return p2pGroups(L, e.mgr.ActiveGroups())
	}))
	mod.RawSetString("find", L.NewFunction(func(L *lua.LState) int {
		return p2pCommand(L, vm, e.mgr.Find)
	}))
	mod.RawSetString("stop_find", L.NewFunction(func(L *lua.LState) int {
		return p2pCommand(L, vm, e.mgr.StopFind)
	}))
	mod.RawSetString("connect", L.NewFunction(func(L *lua.LState) int {
		return p2pConnect(L, vm, e)
	}))
	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return p2pAfter(L, vm, e)
	}))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		e.scriptLog(vm, "", L.CheckString(1))
		return 0
	}))

	L.SetGlobal("p2p", mod)
}

// p2p.on(type, [filter,] callback)
func p2pOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}

	if fn, ok := L.Get(2).(*lua.LFunction); ok {
		h.fn = fn
	} else {
		filter := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		if v := filter.RawGetString("addr"); v != lua.LNil {
			h.addr = v.String()
		}
		if v := filter.RawGetString("name"); v != lua.LNil {
			h.name = v.String()
		}
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// p2pCommand runs a manager command and returns true, or false and the
// error text.
func p2pCommand(L *lua.LState, vm *scriptVM, cmd func(context.Context) error) int {
	ctx, cancel := context.WithTimeout(vm.ctx, commandTimeout)
	defer cancel()
	if err := cmd(ctx); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// p2p.connect(addr_or_name[, persistent])
func p2pConnect(L *lua.LState, vm *scriptVM, e *Engine) int {
	target := L.CheckString(1)
	persistent := L.OptBool(2, false)

	addr, ok := resolvePeer(e.mgr, target)
	if !ok {
		e.logger.Warn("peer not found", "script", vm.id, "target", target)
		L.Push(lua.LFalse)
		L.Push(lua.LString("peer not found: " + target))
		return 2
	}
	return p2pCommand(L, vm, func(ctx context.Context) error {
		return e.mgr.Connect(ctx, addr, persistent)
	})
}

// p2p.devices() returns a list of peer tables.
func p2pDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, v := range e.mgr.Devices() {
		d := L.NewTable()
		d.RawSetString("addr", lua.LString(v.Address.String()))
		d.RawSetString("name", lua.LString(v.Name))
		d.RawSetString("display_name", lua.LString(v.DisplayName()))
		d.RawSetString("alias", lua.LString(v.Alias))
		d.RawSetString("status", lua.LString(v.Status.String()))
		d.RawSetString("type_name", lua.LString(v.TypeName))
		d.RawSetString("group_owner", lua.LBool(v.GroupOwner))
		d.RawSetString("pbc", lua.LBool(v.WPSPBCSupported()))
		d.RawSetString("wfd", lua.LBool(v.WFD != nil && v.WFD.Enabled()))
		tbl.RawSetInt(i+1, d)
	}
	L.Push(tbl)
	return 1
}

// p2pGroups pushes a list of group tables. Passphrases are not exposed.
func p2pGroups(L *lua.LState, groups []p2p.Group) int {
	tbl := L.NewTable()
	for i, g := range groups {
		t := L.NewTable()
		t.RawSetString("network_id", lua.LNumber(g.NetworkID))
		t.RawSetString("ssid", lua.LString(g.NetworkName))
		t.RawSetString("is_owner", lua.LBool(g.IsOwner))
		t.RawSetString("iface", lua.LString(g.Interface))
		t.RawSetString("frequency", lua.LNumber(g.Frequency))
		if g.Owner != nil {
			t.RawSetString("owner", lua.LString(g.Owner.Address.String()))
		}
		clients := L.NewTable()
		for j, c := range g.Clients {
			clients.RawSetInt(j+1, lua.LString(c.Address.String()))
		}
		t.RawSetString("clients", clients)
		tbl.RawSetInt(i+1, t)
	}
	L.Push(tbl)
	return 1
}

// p2p.after(seconds, callback) runs callback later on the VM goroutine.
func p2pAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full", "id", vm.id)
		}
	}()

	return 0
}

// scriptLog sends a script log line to the run capture or the logger.
func (e *Engine) scriptLog(vm *scriptVM, level, msg string) {
	if vm.capture != nil {
		if level != "" {
			msg = "[" + level + "] " + msg
		}
		vm.capture(msg)
		return
	}
	switch level {
	case "debug":
		e.logger.Debug("script log", "id", vm.id, "msg", msg)
	case "warn":
		e.logger.Warn("script log", "id", vm.id, "msg", msg)
	case "error":
		e.logger.Error("script log", "id", vm.id, "msg", msg)
	default:
		e.logger.Info("script log", "id", vm.id, "msg", msg)
	}
}

// resolvePeer finds a peer by address, alias or advertised name.
func resolvePeer(mgr *manager.Manager, target string) (p2p.MacAddress, bool) {
	if addr, err := p2p.ParseMAC(target); err == nil {
		if _, err := mgr.Device(addr); err == nil {
			return addr, true
		}
		return p2p.MacAddress{}, false
	}
	for _, v := range mgr.Devices() {
		if strings.EqualFold(v.Alias, target) || strings.EqualFold(v.Name, target) {
			return v.Address, true
		}
	}
	return p2p.MacAddress{}, false
}
