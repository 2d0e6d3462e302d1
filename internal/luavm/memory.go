package luavm

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// DefaultMemorySize is the scratch region size when none is given.
const DefaultMemorySize = 64 * 1024

// memoryRegion is the byte-addressable scratch area scripts reach
// through the mem module and the debugger reads for memory dumps.
type memoryRegion struct {
	mu   sync.Mutex
	data []byte
}

func newMemoryRegion(size int) *memoryRegion {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &memoryRegion{data: make([]byte, size)}
}

// read copies size bytes at address.
func (m *memoryRegion) read(address int64, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if address < 0 || address >= int64(len(m.data)) {
		return nil, fmt.Errorf("address %d outside region of %d bytes", address, len(m.data))
	}
	end := address + int64(size)
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}

	out := make([]byte, end-address)
	copy(out, m.data[address:end])
	return out, nil
}

// write stores one byte.
func (m *memoryRegion) write(address int64, value byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if address < 0 || address >= int64(len(m.data)) {
		return fmt.Errorf("address %d outside region of %d bytes", address, len(m.data))
	}
	m.data[address] = value
	return nil
}

// register exposes the region to Lua as the mem module with peek,
// poke and size.
func (m *memoryRegion) register(L *lua.LState) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"peek": m.luaPeek,
		"poke": m.luaPoke,
		"size": m.luaSize,
	})
	L.SetGlobal("mem", mod)
}

func (m *memoryRegion) luaPeek(L *lua.LState) int {
	address := int64(L.CheckInt(1))
	data, err := m.read(address, 1)
	if err != nil {
		L.RaiseError("peek: %v", err)
		return 0
	}
	L.Push(lua.LNumber(data[0]))
	return 1
}

func (m *memoryRegion) luaPoke(L *lua.LState) int {
	address := int64(L.CheckInt(1))
	value := L.CheckInt(2)
	if value < 0 || value > 255 {
		L.RaiseError("poke: value %d outside byte range", value)
		return 0
	}
	if err := m.write(address, byte(value)); err != nil {
		L.RaiseError("poke: %v", err)
		return 0
	}
	return 0
}

func (m *memoryRegion) luaSize(L *lua.LState) int {
	m.mu.Lock()
	size := len(m.data)
	m.mu.Unlock()
	L.Push(lua.LNumber(size))
	return 1
}
