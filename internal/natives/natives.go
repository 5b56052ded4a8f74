// Package natives implements spec.md §6's "Preloaded native modules":
// the Go-backed tables script sees as `com.thread`, `com.event`, and
// `com.http` (the coroutine-I/O-bound HTTP core), bridging the
// interpreter to internal/instance, internal/eventbus and
// internal/ioserver. Every module here is built per-instance, since
// com.thread/com.event need the calling instance's own identity.
package natives

import (
	"crypto/tls"
	"net"
	"runtime"

	lua "github.com/yuin/gopher-lua"

	"github.com/pascalcombier/comexe/internal/eventbus"
	"github.com/pascalcombier/comexe/internal/instance"
	"github.com/pascalcombier/comexe/internal/ioserver"
	"github.com/pascalcombier/comexe/internal/ioserver/httpconn"
	"github.com/pascalcombier/comexe/internal/ioserver/tlsadapter"
	"github.com/pascalcombier/comexe/internal/script"
)

// Version is the runtime's self-reported version string, exposed to
// script through com.raw.runtime.version(). Set at build time via
// -ldflags; "dev" otherwise.
var Version = "dev"

// Build returns the full set of per-instance native modules bound to
// inst (spec.md §6). cmd/comexe wires this in as
// instance.Config.InstanceNatives.
func Build(inst *instance.Instance) []script.Preload {
	return []script.Preload{
		runtimeModule(inst),
		threadModule(inst),
		eventModule(inst),
		httpModule(inst),
	}
}

// runtimeModule implements com.raw.runtime: the small bits of process
// identity script can query without a preloaded module of its own
// (spec.md §6 "com.raw.runtime").
func runtimeModule(inst *instance.Instance) script.Preload {
	return script.Preload{Name: "com.raw.runtime", Loader: func(L *lua.LState) int {
		mod := L.NewTable()
		L.SetFuncs(mod, map[string]lua.LGFunction{
			"version": func(L *lua.LState) int {
				L.Push(lua.LString(Version))
				return 1
			},
			"platform": func(L *lua.LState) int {
				L.Push(lua.LString(runtime.GOOS))
				return 1
			},
		})
		L.Push(mod)
		return 1
	}}
}

// threadModule implements com.thread: spawn/join/self (spec.md §4.C
// "Script code uses C to spawn sibling instances").
func threadModule(inst *instance.Instance) script.Preload {
	return script.Preload{Name: "com.thread", Loader: func(L *lua.LState) int {
		mod := L.NewTable()
		L.SetFuncs(mod, map[string]lua.LGFunction{
			"self": func(L *lua.LState) int {
				L.Push(lua.LNumber(inst.ID()))
				return 1
			},
			"spawn": func(L *lua.LState) int {
				name := L.CheckString(1)
				exitEvent := L.OptString(2, "")
				app := inst.Application()
				child, err := app.Spawn(inst, name, exitEvent)
				if err != nil {
					L.RaiseError("com.thread.spawn: %v", err)
					return 0
				}
				L.Push(lua.LNumber(child.ID()))
				return 1
			},
			"join": func(L *lua.LState) int {
				id := L.CheckInt(1)
				ok := inst.Application().Join(id)
				L.Push(lua.LBool(ok))
				return 1
			},
		})
		L.Push(mod)
		return 1
	}}
}

// eventModule implements com.event: post/broadcast/stop_loop (spec.md
// §4.B).
func eventModule(inst *instance.Instance) script.Preload {
	return script.Preload{Name: "com.event", Loader: func(L *lua.LState) int {
		mod := L.NewTable()
		L.SetFuncs(mod, map[string]lua.LGFunction{
			"post": func(L *lua.LState) int {
				targetID := L.CheckInt(1)
				name := L.CheckString(2)
				args, err := varArgsFrom(L, 3)
				if err != nil {
					L.RaiseError("com.event.post: %v", err)
					return 0
				}
				if err := inst.PostByID(targetID, name, args...); err != nil {
					L.RaiseError("com.event.post: %v", err)
					return 0
				}
				return 0
			},
			"broadcast": func(L *lua.LState) int {
				name := L.CheckString(1)
				args, err := varArgsFrom(L, 2)
				if err != nil {
					L.RaiseError("com.event.broadcast: %v", err)
					return 0
				}
				inst.Broadcast(name, args...)
				return 0
			},
			"stop_loop": func(L *lua.LState) int {
				inst.StopLoop()
				return 0
			},
		})
		L.Push(mod)
		return 1
	}}
}

func varArgsFrom(L *lua.LState, startIndex int) ([]eventbus.EventArg, error) {
	top := L.GetTop()
	if top < startIndex {
		return nil, nil
	}
	args := make([]eventbus.EventArg, 0, top-startIndex+1)
	for i := startIndex; i <= top; i++ {
		arg, err := script.FromLua(L.Get(i))
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

// httpModule implements com.http: the coroutine-I/O-bound HTTP core
// (spec.md §4.D). serve blocks, running the instance's cooperative
// scheduler on the calling (instance-owning) goroutine; stop ends it,
// normally called from an event handler invoked during one of the
// scheduler's own drain ticks.
func httpModule(inst *instance.Instance) script.Preload {
	var sched *ioserver.Scheduler

	return script.Preload{Name: "com.http", Loader: func(L *lua.LState) int {
		mod := L.NewTable()
		L.SetFuncs(mod, map[string]lua.LGFunction{
			"serve": func(L *lua.LState) int {
				address := L.CheckString(1)
				handlerName := L.CheckString(2)
				maxReqs := L.OptInt(3, httpconn.DefaultMaxRequestsPerConnection)

				ln, err := net.Listen("tcp", address)
				if err != nil {
					L.RaiseError("com.http.serve: listen %q: %v", address, err)
					return 0
				}

				// Optional 4th argument: {cert_file=..., key_file=...}
				// terminates TLS in front of the plain listener (spec.md
				// §4.D TLS adapter). Absent, serve is plaintext HTTP.
				var listener net.Listener = ln
				if tlsOpts, ok := L.Get(4).(*lua.LTable); ok {
					certFile := tlsOpts.RawGetString("cert_file").String()
					keyFile := tlsOpts.RawGetString("key_file").String()
					cert, err := tls.LoadX509KeyPair(certFile, keyFile)
					if err != nil {
						ln.Close()
						L.RaiseError("com.http.serve: load tls cert/key: %v", err)
						return 0
					}
					listener = tlsadapter.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
				}

				sched = ioserver.New(ioserver.Config{
					Drainer:     inst,
					HandlerName: handlerName,
					Log:         inst.Log(),
					Handler: func(req *httpconn.Request) ioserver.DispatchResult {
						status, headers, body, upgrade, err := inst.Interpreter().CallRequestHandler(
							handlerName, req.Method, req.Path, req.Header, req.Query, req.Body)
						if err != nil {
							return ioserver.DispatchResult{Err: err}
						}
						return ioserver.DispatchResult{Status: status, Header: headers, Body: body, Upgrade: upgrade}
					},
				})
				sched.AddListener(listener, maxReqs)
				sched.Run()
				sched = nil
				return 0
			},
			"stop": func(L *lua.LState) int {
				if sched != nil {
					sched.Stop()
				}
				return 0
			},
		})
		L.Push(mod)
		return 1
	}}
}
