package jsruntime

import (
	"time"

	"github.com/dop251/goja"
	"github.com/patrickmn/go-cache"
)

// RamKv 简单的内存 KV 存储，脚本插件在多次重载之间可以共享
type RamKv struct {
	c *cache.Cache
}

func NewRamKv() *RamKv {
	return &RamKv{c: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (kv *RamKv) Set(key string, value any) {
	kv.c.Set(key, value, cache.NoExpiration)
}

// SetTTL stores a value that expires after ttl.
func (kv *RamKv) SetTTL(key string, value any, ttl time.Duration) {
	kv.c.Set(key, value, ttl)
}

func (kv *RamKv) Get(key string) (any, bool) {
	return kv.c.Get(key)
}

func (kv *RamKv) Del(key string) {
	kv.c.Delete(key)
}

func (kv *RamKv) Has(key string) bool {
	_, ok := kv.c.Get(key)
	return ok
}

func (kv *RamKv) proxy(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()

	// kv.set(key, value, ttlMs?)
	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		val := call.Argument(1).Export()
		if ttl := call.Argument(2); !goja.IsUndefined(ttl) && ttl.ToInteger() > 0 {
			kv.SetTTL(key, val, time.Duration(ttl.ToInteger())*time.Millisecond)
		} else {
			kv.Set(key, val)
		}
		return goja.Undefined()
	})

	// kv.get(key, defaultValue)
	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		val, ok := kv.Get(call.Argument(0).String())
		if !ok {
			return call.Argument(1)
		}
		return vm.ToValue(val)
	})

	_ = obj.Set("del", func(call goja.FunctionCall) goja.Value {
		kv.Del(call.Argument(0).String())
		return goja.Undefined()
	})

	_ = obj.Set("has", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(kv.Has(call.Argument(0).String()))
	})

	return obj
}
