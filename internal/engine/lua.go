// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
)

// newSandbox builds a fresh Lua state for one evaluation. Standard math and
// string libraries stay available; everything that can touch the host (os,
// io, loading, metatables) is removed, and safe time helpers are bound in
// their place. States are never reused across nodes.
func newSandbox() *lua.LState {
	L := lua.NewState()

	L.SetGlobal("date", L.NewFunction(func(L *lua.LState) int {
		format := L.CheckString(1)
		L.Push(lua.LString(strftime(time.Now().UTC(), format)))
		return 1
	}))
	L.SetGlobal("time", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().UTC().Unix()))
		return 1
	}))
	L.SetGlobal("now", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(time.Now().UTC().Format(time.RFC3339)))
		return 1
	}))
	L.SetGlobal("uuid", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(uuid.NewString()))
		return 1
	}))
	L.SetGlobal("hash", L.NewFunction(func(L *lua.LState) int {
		sum := sha256.Sum256([]byte(L.CheckString(1)))
		L.Push(lua.LString(hex.EncodeToString(sum[:])))
		return 1
	}))

	for _, name := range []string{
		"os", "io", "debug", "package", "coroutine",
		"dofile", "loadfile", "loadstring", "load", "require",
		"rawget", "rawset", "rawequal", "rawlen",
		"getmetatable", "setmetatable", "collectgarbage",
	} {
		L.SetGlobal(name, lua.LNil)
	}

	return L
}

// strftime renders t with a C-style format string, covering the specifiers
// commonly used in workflow date expressions.
func strftime(t time.Time, format string) string {
	replacements := []struct {
		spec, layout string
	}{
		{"%Y", "2006"}, {"%y", "06"},
		{"%m", "01"}, {"%d", "02"},
		{"%H", "15"}, {"%M", "04"}, {"%S", "05"},
		{"%B", "January"}, {"%b", "Jan"},
		{"%A", "Monday"}, {"%a", "Mon"},
		{"%p", "PM"}, {"%z", "-0700"}, {"%Z", "MST"},
	}
	out := format
	for _, r := range replacements {
		out = strings.ReplaceAll(out, r.spec, t.Format(r.layout))
	}
	out = strings.ReplaceAll(out, "%%", "%")
	return out
}

// jsonToLuaString renders a structured value as Lua table literal syntax, for
// injection into a state via a setup statement. Object keys use bracket
// notation so arbitrary key characters survive.
func jsonToLuaString(value any) string {
	switch v := value.(type) {
	case nil:
		return "nil"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case int:
		return fmt.Sprintf("%d", v)
	case json.Number:
		return v.String()
	case string:
		return fmt.Sprintf("%q", v)
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = jsonToLuaString(item)
		}
		return "{" + strings.Join(items, ", ") + "}"
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(v))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("[%q] = %s", k, jsonToLuaString(v[k])))
		}
		return "{" + strings.Join(pairs, ", ") + "}"
	default:
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
}

// luaToJSON converts a Lua value to its structured form. Tables whose keys
// are exactly the dense integers 1..n become sequences; any other table
// becomes a string-keyed mapping. Integral numbers surface as int64 so they
// serialize without a fractional part.
func luaToJSON(value lua.LValue) any {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		return luaTableToJSON(v)
	default:
		return nil
	}
}

func luaTableToJSON(table *lua.LTable) any {
	isArray := true
	maxIndex := 0
	count := 0

	table.ForEach(func(key, _ lua.LValue) {
		count++
		if !isArray {
			return
		}
		n, ok := key.(lua.LNumber)
		if !ok || float64(n) != float64(int64(n)) || int64(n) <= 0 {
			isArray = false
			return
		}
		if int(n) > maxIndex {
			maxIndex = int(n)
		}
	})

	if isArray && count > 0 && count == maxIndex {
		arr := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			arr = append(arr, luaToJSON(table.RawGetInt(i)))
		}
		return arr
	}

	obj := make(map[string]any, count)
	table.ForEach(func(key, val lua.LValue) {
		var k string
		switch kv := key.(type) {
		case lua.LString:
			k = string(kv)
		case lua.LNumber:
			k = kv.String()
		default:
			return
		}
		obj[k] = luaToJSON(val)
	})
	return obj
}
