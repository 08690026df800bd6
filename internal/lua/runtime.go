package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/models"
)

const defaultTimeout = 2 * time.Second

// Planner runs a user supplied Lua script before SQL generation. The script
// defines plan(question) and may return a string or a list of strings; each
// becomes an extra constraint for the SQL generator.
//
// The script is compiled once. Every call gets a fresh sandboxed state, so a
// Planner is safe for concurrent use.
type Planner struct {
	path    string
	proto   *lua.FunctionProto
	timeout time.Duration
	log     *zap.Logger
}

// NewPlanner compiles the script at path.
func NewPlanner(path string, log *zap.Logger) (*Planner, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read planner script: %w", err)
	}
	return NewPlannerFromSource(filepath.Base(path), string(script), log)
}

func NewPlannerFromSource(name, source string, log *zap.Logger) (*Planner, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse planner script: %w", err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile planner script: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{
		path:    name,
		proto:   proto,
		timeout: defaultTimeout,
		log:     log.Named("planner"),
	}, nil
}

// Plan calls plan(question) with the current state exposed through
// context() and returns the constraints it produced.
func (p *Planner) Plan(ctx context.Context, state models.State) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Don't load any libraries by default
	})
	defer L.Close()
	L.SetContext(ctx)

	openSafeLibs(L)

	var added []string
	p.registerAPI(L, state, &added)

	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("failed to load planner script: %w", err)
	}

	planFn := L.GetGlobal("plan")
	if planFn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("planner script %s must define a 'plan' function", p.path)
	}

	L.Push(planFn)
	L.Push(lua.LString(state.Question))
	if err := L.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("plan execution failed: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	constraints := append(added, constraintsFrom(ret)...)
	p.log.Debug("plan complete", zap.Int("constraints", len(constraints)))
	return constraints, nil
}

// openSafeLibs loads only the safe standard libraries
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove dangerous base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Plans must be deterministic
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (p *Planner) registerAPI(L *lua.LState, state models.State, added *[]string) {
	L.SetGlobal("context", L.NewFunction(func(L *lua.LState) int {
		L.Push(contextTable(L, state))
		return 1
	}))
	L.SetGlobal("constraint", L.NewFunction(func(L *lua.LState) int {
		if text := strings.TrimSpace(L.CheckString(1)); text != "" {
			*added = append(*added, text)
		}
		return 0
	}))
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		p.log.Info(L.CheckString(1), zap.String("script", p.path))
		return 0
	}))
}

// contextTable exposes the read-only view of the state a plan may use.
func contextTable(L *lua.LState, state models.State) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "question", lua.LString(state.Question))
	L.SetField(tbl, "format_hint", lua.LString(state.FormatHint))
	L.SetField(tbl, "route", lua.LString(string(state.Route)))

	docs := L.NewTable()
	for i, d := range state.Documents {
		doc := L.NewTable()
		L.SetField(doc, "doc_id", lua.LString(d.ID))
		L.SetField(doc, "content", lua.LString(d.Content))
		L.SetTable(docs, lua.LNumber(i+1), doc)
	}
	L.SetField(tbl, "documents", docs)
	return tbl
}

// constraintsFrom converts plan's return value: nil, a string, or an array
// of strings.
func constraintsFrom(v lua.LValue) []string {
	switch val := v.(type) {
	case lua.LString:
		if s := strings.TrimSpace(string(val)); s != "" {
			return []string{s}
		}
	case *lua.LTable:
		var out []string
		val.ForEach(func(_, item lua.LValue) {
			if s, ok := item.(lua.LString); ok {
				if text := strings.TrimSpace(string(s)); text != "" {
					out = append(out, text)
				}
			}
		})
		return out
	}
	return nil
}

// IsLuaScript checks if a file is a Lua planner script
func IsLuaScript(path string) bool {
	return filepath.Ext(path) == ".lua"
}
