// Package script adapts gopher-lua as the embedded scripting interpreter
// spec.md §1 treats as an external collaborator: "the scripting language
// interpreter itself... consumed through the interfaces named in §6."
// Every Instance owns exactly one *Interpreter; interpreter state is never
// shared across instances (spec.md §3 Invariant).
package script

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	lua "github.com/yuin/gopher-lua"

	"github.com/pascalcombier/comexe/internal/eventbus"
)

// ErrHandlerMissing marks CallGlobal's failure mode where name does not
// name a function at all (spec.md §6 exit code 4, "missing event handler
// global"), as opposed to an error raised while running it. Callers use
// errors.Is to tell the two apart, since only the former is host-fatal.
var ErrHandlerMissing = errors.New("script: event handler global missing")

// Preload is one native module made available to script without going
// through the module search chain (spec.md §6 "Preloaded native
// modules"). Name is the module name script sees; Loader installs it.
type Preload struct {
	Name   string
	Loader lua.LGFunction
}

// Interpreter wraps one gopher-lua state; it holds no other state. The
// arg table lives in that state as a global, and native modules reach
// the owning Instance through their own closures.
type Interpreter struct {
	L *lua.LState
}

// New creates an interpreter. Per spec.md §4.C step 3-5, callers install
// the arg table, open standard libraries, then register preloads, in
// that order, before loading the init chunk.
//
// gopher-lua state is inherently single-goroutine; callers must ensure
// one Interpreter is only ever touched from the Instance's own thread,
// which is the same isolation spec.md §3 demands.
func New() *Interpreter {
	return &Interpreter{L: lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: true,
	})}
}

// Close releases the interpreter's native resources. Called once, from
// Instance teardown (spec.md §4.C "join... then frees its resources").
func (i *Interpreter) Close() { i.L.Close() }

// OpenLibs opens the standard interpreter libraries (spec.md §4.C step 4).
func (i *Interpreter) OpenLibs() { i.L.OpenLibs() }

// InstallArgTable installs the `arg` table with positive indices 1..argc
// mapped from argv (spec.md §4.C step 3, §6 "Positional arguments become
// the arg table").
func (i *Interpreter) InstallArgTable(argv []string) {
	tbl := i.L.NewTable()
	for idx, value := range argv {
		tbl.RawSetInt(idx+1, lua.LString(value))
	}
	i.L.SetGlobal("arg", tbl)
}

// RegisterPreloads installs the fixed list of preloaded native modules
// (spec.md §4.C step 5, §6 "Preloaded native modules").
func (i *Interpreter) RegisterPreloads(preloads []Preload) {
	for _, p := range preloads {
		i.L.PreloadModule(p.Name, p.Loader)
	}
}

// LoadChunk compiles and runs source under chunkName. Per spec.md §4.C
// step 6, this is used to load the embedded comexe/init.lua chunk; any
// error here is fatal for the whole process.
func (i *Interpreter) LoadChunk(source []byte, chunkName string) error {
	fn, err := i.L.Load(bytes.NewReader(source), chunkName)
	if err != nil {
		return fmt.Errorf("script: compile %s: %w", chunkName, err)
	}
	i.L.Push(fn)
	if err := i.L.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("script: run %s: %w", chunkName, err)
	}
	return nil
}

// RequireAndBind implements `-l [name=]mod` (spec.md §6 "preload module
// into a global"): it calls the standard `require(moduleName)` and
// assigns the result to the global globalName. Since every native module
// this build knows about is already registered against gopher-lua's
// `package.preload` table (see RegisterPreloads), require resolves them
// without needing a filesystem-backed module search.
func (i *Interpreter) RequireAndBind(globalName, moduleName string) error {
	requireFn := i.L.GetGlobal("require")
	if requireFn.Type() != lua.LTFunction {
		return fmt.Errorf("script: require is not available (package library not opened)")
	}
	if err := i.L.CallByParam(lua.P{
		Fn:      requireFn,
		NRet:    1,
		Protect: true,
	}, lua.LString(moduleName)); err != nil {
		return fmt.Errorf("script: require(%q): %w", moduleName, err)
	}
	result := i.L.Get(-1)
	i.L.Pop(1)
	i.L.SetGlobal(globalName, result)
	return nil
}

// CallGlobal invokes a global function by name with args converted from
// EventArg, matching spec.md §4.B's dispatch rule ("invokes script
// functions by global name"). Errors here are reported to the diagnostic
// stream by the caller; they never propagate as a Go panic.
func (i *Interpreter) CallGlobal(name string, args []eventbus.EventArg) error {
	fn := i.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return fmt.Errorf("%w: %q", ErrHandlerMissing, name)
	}

	lvalues := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		lv, err := ToLua(a)
		if err != nil {
			return err
		}
		lvalues = append(lvalues, lv)
	}

	return i.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lvalues...)
}

// CallRequestHandler invokes the global function name as the HTTP
// request handler (spec.md §4.D "Request dispatch hands the Request to
// the bound application"). The Lua contract is return-value based
// rather than the source's continuation-style finish/upgrade signal
// calls (see SPEC_FULL.md / DESIGN.md for that simplification): the
// handler receives (method, path, headers, query, body) and returns
// either nothing (treated as finish with an empty 200, matching spec.md
// §4.D point (c)), or (status, headers, body) for a normal finish, or
// the literal string "upgrade" as its sole return value to hijack the
// connection for a protocol switch (point (b)).
//
// method/path/body are Lua strings; headers/query are string-keyed Lua
// tables.
func (i *Interpreter) CallRequestHandler(name string, method, path string, headers, query map[string]string, body []byte) (status int, respHeaders map[string]string, respBody []byte, upgrade bool, err error) {
	fn := i.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return 0, nil, nil, false, fmt.Errorf("script: no global function %q (request handler missing)", name)
	}

	err = i.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    3,
		Protect: true,
	}, lua.LString(method), lua.LString(path), tableOf(i.L, headers), tableOf(i.L, query), lua.LString(body))
	if err != nil {
		return 0, nil, nil, false, err
	}

	first := i.L.Get(-3)
	second := i.L.Get(-2)
	third := i.L.Get(-1)
	i.L.Pop(3)

	if s, ok := first.(lua.LString); ok && string(s) == "upgrade" && second == lua.LNil && third == lua.LNil {
		return 0, nil, nil, true, nil
	}
	if first == lua.LNil {
		return 200, nil, nil, false, nil
	}

	statusNum, ok := first.(lua.LNumber)
	if !ok {
		return 0, nil, nil, false, fmt.Errorf("script: request handler %q returned non-numeric status", name)
	}
	respHeaders = map[string]string{}
	if tbl, ok := second.(*lua.LTable); ok {
		tbl.ForEach(func(k, v lua.LValue) {
			respHeaders[k.String()] = v.String()
		})
	}
	if s, ok := third.(lua.LString); ok {
		respBody = []byte(s)
	}
	return int(statusNum), respHeaders, respBody, false, nil
}

func tableOf(L *lua.LState, m map[string]string) *lua.LTable {
	t := L.NewTable()
	for k, v := range m {
		t.RawSetString(k, lua.LString(v))
	}
	return t
}

// ToLua converts one EventArg into the gopher-lua value it represents.
// Conversion is total for the six variants spec.md §3 defines; there is
// no variant this function can fail on by construction, matching "this
// direction never needs the diagnostic-stream fatal path that
// FromLua does.
func ToLua(a eventbus.EventArg) (lua.LValue, error) {
	switch a.Kind {
	case eventbus.KindNil:
		return lua.LNil, nil
	case eventbus.KindBool:
		return lua.LBool(a.Bool), nil
	case eventbus.KindInt:
		return lua.LNumber(a.Int), nil
	case eventbus.KindDouble:
		return lua.LNumber(a.Double), nil
	case eventbus.KindString:
		return lua.LString(a.Str), nil
	case eventbus.KindUserData:
		ud := lua.LUserData{Value: a.UserData}
		return &ud, nil
	default:
		return nil, fmt.Errorf("script: ToLua: unknown EventArg kind %d", a.Kind)
	}
}

// FromLua converts one gopher-lua value supplied by script into an
// EventArg for posting across the event bus. Per spec.md §4.B, "any other
// script value encountered by the sender is a fatal error reported on the
// diagnostic stream" — tables and functions cannot cross the event bus
// because the bus forbids passing interpreter objects by reference
// (spec.md §3 Invariant).
func FromLua(v lua.LValue) (eventbus.EventArg, error) {
	switch v.Type() {
	case lua.LTNil:
		return eventbus.Nil(), nil
	case lua.LTBool:
		return eventbus.Bool(bool(v.(lua.LBool))), nil
	case lua.LTNumber:
		n := float64(v.(lua.LNumber))
		if n == float64(int64(n)) {
			return eventbus.Int(int64(n)), nil
		}
		return eventbus.Double(n), nil
	case lua.LTString:
		return eventbus.String(string(v.(lua.LString))), nil
	case lua.LTUserData:
		ud := v.(*lua.LUserData)
		return eventbus.UserData(ptrOf(ud.Value)), nil
	default:
		return eventbus.EventArg{}, fmt.Errorf(
			"script: FromLua: value of type %s cannot cross the event bus (spec.md §3: no tables, no functions, no interpreter objects)",
			v.Type().String())
	}
}

// ptrOf extracts the underlying pointer bits from a userdata payload, or
// nil if the payload is not itself a pointer-shaped value.
func ptrOf(v any) unsafe.Pointer {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr || rv.Kind() == reflect.UnsafePointer {
		return unsafe.Pointer(rv.Pointer())
	}
	return nil
}
