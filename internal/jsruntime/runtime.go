package jsruntime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// ErrPending is returned when a called function yields a promise that is
// still pending after the job queue has been drained.
var ErrPending = errors.New("promise did not settle")

// Builder 构建 JsRuntime 的配置入口
type Builder struct {
	enableNodejs bool
	kv           *RamKv
	injectors    []Injector
}

// Injector 允许在构建时注入自定义能力
type Injector func(r *JsRuntime) error

// JsRuntime 封装了 JS 虚拟机环境
type JsRuntime struct {
	vm       *goja.Runtime
	mu       sync.Mutex // goja 不是线程安全的
	registry *require.Registry
}

func NewBuilder() *Builder {
	return &Builder{}
}

// WithNodejs 启用 require() 和 console
func (b *Builder) WithNodejs() *Builder {
	b.enableNodejs = true
	return b
}

// WithMemoryKv 向运行时注入全局 kv 对象
func (b *Builder) WithMemoryKv(kv ...*RamKv) *Builder {
	if len(kv) > 0 && kv[0] != nil {
		b.kv = kv[0]
	} else {
		b.kv = NewRamKv()
	}
	return b
}

// WithInjector 注册自定义注入函数，在 Build 时依次执行
func (b *Builder) WithInjector(inj Injector) *Builder {
	if inj != nil {
		b.injectors = append(b.injectors, inj)
	}
	return b
}

func (b *Builder) Build() (*JsRuntime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	r := &JsRuntime{
		vm:       vm,
		registry: new(require.Registry),
	}

	if b.enableNodejs {
		r.registry.Enable(vm)
		console.Enable(vm)
	}

	if b.kv != nil {
		if err := vm.Set("kv", b.kv.proxy(vm)); err != nil {
			return nil, err
		}
	}

	for _, inj := range b.injectors {
		if err := inj(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// VM exposes the underlying runtime. Callers must not use it concurrently
// with other JsRuntime methods except from inside an Injector or a Go
// function invoked by script.
func (r *JsRuntime) VM() *goja.Runtime {
	return r.vm
}

// Set defines a global.
func (r *JsRuntime) Set(name string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vm.Set(name, value)
}

func (r *JsRuntime) RunScript(script string) (goja.Value, error) {
	return r.RunNamed("", script)
}

// RunNamed compiles src under name so exceptions carry the file name.
func (r *JsRuntime) RunNamed(name, src string) (goja.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prg, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, err
	}
	return r.vm.RunProgram(prg)
}

// Call invokes the global function fn. A returned promise is settled by
// draining the job queue: fulfilled values are returned, rejections become
// errors.
func (r *JsRuntime) Call(fn string, params ...any) (goja.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := goja.AssertFunction(r.vm.Get(fn))
	if !ok {
		return nil, fmt.Errorf("%s is not a function", fn)
	}
	vals := make([]goja.Value, len(params))
	for i, p := range params {
		vals[i] = r.vm.ToValue(p)
	}
	v, err := f(goja.Undefined(), vals...)
	if err != nil {
		return nil, err
	}
	return r.settle(v)
}

func (r *JsRuntime) settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	if p.State() == goja.PromiseStatePending {
		_, _ = r.vm.RunString("void 0")
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		res := p.Result()
		if obj, ok := res.(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return nil, errors.New(msg.String())
			}
		}
		return nil, fmt.Errorf("%v", res)
	default:
		return nil, ErrPending
	}
}

// HasFunction reports whether the global name is callable.
func (r *JsRuntime) HasFunction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := goja.AssertFunction(r.vm.Get(name))
	return ok
}

// ExportGlobal decodes the global name into target with JSON semantics:
// json tags apply and function-valued properties are skipped.
func (r *JsRuntime) ExportGlobal(name string, target any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return fmt.Errorf("%s is not defined", name)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return json.Unmarshal(b, target)
}

// Throw raises err as a JS exception from inside a Go function called by script.
func (r *JsRuntime) Throw(err error) {
	panic(r.vm.NewGoError(err))
}
