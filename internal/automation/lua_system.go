//go:build !no_automation

package automation

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerSystemModule registers the `system` global table in a Lua state.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("datetime", L.NewFunction(func(L *lua.LState) int {
		return systemDatetime(L, time.Now())
	}))
	mod.RawSetString("time_between", L.NewFunction(func(L *lua.LState) int {
		return systemTimeBetween(L, time.Now())
	}))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		e.scriptLog(vm, L.CheckString(1), L.CheckString(2))
		return 0
	}))

	L.SetGlobal("system", mod)
}

// system.datetime(component)
func systemDatetime(L *lua.LState, now time.Time) int {
	component := L.CheckString(1)

	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "second":
		L.Push(lua.LNumber(now.Second()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format("15:04:05")))
	case "date_str":
		L.Push(lua.LString(now.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// system.time_between(from, to) checks whether now falls in [from, to).
// Bounds are hours (8) or "HH:MM" strings; from > to wraps past midnight.
func systemTimeBetween(L *lua.LState, now time.Time) int {
	from, err := minuteOfDay(L.Get(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	to, err := minuteOfDay(L.Get(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}
	cur := now.Hour()*60 + now.Minute()

	var result bool
	if from <= to {
		result = cur >= from && cur < to
	} else {
		result = cur >= from || cur < to
	}

	L.Push(lua.LBool(result))
	return 1
}

func minuteOfDay(v lua.LValue) (int, error) {
	switch val := v.(type) {
	case lua.LNumber:
		h := int(val)
		if h < 0 || h > 24 {
			return 0, fmt.Errorf("hour %d out of range", h)
		}
		return h * 60, nil
	case lua.LString:
		t, err := time.Parse("15:04", string(val))
		if err != nil {
			return 0, fmt.Errorf("want HH:MM, got %q", string(val))
		}
		return t.Hour()*60 + t.Minute(), nil
	default:
		return 0, fmt.Errorf("want hour or HH:MM, got %s", v.Type())
	}
}
