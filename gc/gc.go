// Package gc implements the VM's precise, tracing garbage collector (spec
// component B): an ownership registry for every managed allocation, three
// root multisets (roots, persistent, temporaries), a mark phase that walks
// per-type reference layouts, a sweep phase, and an allocation-threshold GC
// trigger. It is ported directly from the reference implementation's
// `slang::gc::garbage_collector` (interpreter/gc.h / interpreter/gc.cpp).
package gc

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Addr is a GC-tracked address. The zero value denotes null. Addresses
// produced by the collector's own allocators are small monotonically
// increasing handles; addresses registered via AddPersistentSlice are the
// real Go memory address of caller-owned byte slices (host locals memory,
// spec §3 "persistent").
type Addr = uint64

// Kind identifies the shape of a GC object, mirroring gc_object_type.
type Kind uint8

const (
	KindStr Kind = iota
	KindRaw
	KindArrayI8
	KindArrayI16
	KindArrayI32
	KindArrayI64
	KindArrayF32
	KindArrayF64
	KindArrayStr
	KindArrayRef
)

func (k Kind) String() string {
	switch k {
	case KindStr:
		return "str"
	case KindRaw:
		return "obj"
	case KindArrayI8:
		return "array_i8"
	case KindArrayI16:
		return "array_i16"
	case KindArrayI32:
		return "array_i32"
	case KindArrayI64:
		return "array_i64"
	case KindArrayF32:
		return "array_f32"
	case KindArrayF64:
		return "array_f64"
	case KindArrayStr:
		return "array_str"
	case KindArrayRef:
		return "array_aref"
	default:
		return "unknown"
	}
}

// ElemWidth returns the per-element byte width for array kinds.
func (k Kind) ElemWidth() int {
	switch k {
	case KindArrayI8:
		return 1
	case KindArrayI16:
		return 2
	case KindArrayI32, KindArrayF32:
		return 4
	case KindArrayI64, KindArrayF64, KindArrayStr, KindArrayRef:
		return 8
	default:
		return 0
	}
}

// Flag bits on an Object, mirroring gc_object::gc_flags.
const (
	FlagNone      uint8 = 0
	flagReachable uint8 = 1
	// FlagTemporary marks an allocation to be entered into the temporaries
	// multiset instead of the root multiset (spec §4.2 "Allocation").
	FlagTemporary uint8 = 2
)

// Object is a managed allocation entry.
type Object struct {
	Kind      Kind
	LayoutID  *int // own struct layout for KindRaw; element layout for KindArrayRef
	Alignment int
	Data      []byte // raw byte payload for everything except KindStr
	Str       string // payload for KindStr
	flags     uint8
}

// Size reports the object's logical byte size, for accounting purposes.
func (o *Object) Size() int {
	if o.Kind == KindStr {
		return len(o.Str)
	}
	return len(o.Data)
}

type persistentEntry struct {
	mem      []byte
	layoutID int
	refCount int
}

// Config tunes the collector's cycle-trigger heuristic (spec §4.2
// "Collection trigger"). Defaults mirror the reference garbage_collector's
// constructor defaults (1 MiB / 1 MiB / 2.0).
type Config struct {
	MinThresholdBytes int
	ThresholdBytes    int
	GrowthFactor      float64
}

// DefaultConfig returns the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{
		MinThresholdBytes: 1 * 1024 * 1024,
		ThresholdBytes:    1 * 1024 * 1024,
		GrowthFactor:      2.0,
	}
}

// Error is returned for all GC-kind failures (spec §7 "GC errors").
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "gc: " + e.Msg }

func errf(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Collector is the garbage collector for one VM context.
type Collector struct {
	objects     map[Addr]*Object
	roots       map[Addr]int
	persistent  map[Addr]*persistentEntry
	temporaries map[Addr]int

	allocatedBytes       int
	allocatedSinceCycle  int
	minThresholdBytes    int
	thresholdBytes       int
	growthFactor         float64
	layouts              *layoutRegistry
	nextHandle           Addr
	cyclesRun            int
	onCycle              func(stats CycleStats)
}

// CycleStats summarizes one completed collection cycle, for logging hooks.
type CycleStats struct {
	ObjectsBefore int
	ObjectsAfter  int
	BytesLive     int
}

// New constructs a Collector with the given configuration.
func New(cfg Config) *Collector {
	return &Collector{
		objects:           make(map[Addr]*Object),
		roots:             make(map[Addr]int),
		persistent:        make(map[Addr]*persistentEntry),
		temporaries:       make(map[Addr]int),
		minThresholdBytes: cfg.MinThresholdBytes,
		thresholdBytes:    cfg.ThresholdBytes,
		growthFactor:      cfg.GrowthFactor,
		layouts:           newLayoutRegistry(),
		nextHandle:        1,
	}
}

// SetCycleHook installs a callback invoked after every completed Run, for
// host-side logging (SPEC_FULL §6 "Logging").
func (c *Collector) SetCycleHook(fn func(CycleStats)) { c.onCycle = fn }

func (c *Collector) allocHandle() Addr {
	h := c.nextHandle
	c.nextHandle++
	return h
}

func (c *Collector) accountAlloc(size int) {
	c.allocatedBytes += size
	c.allocatedSinceCycle += size
}

func (c *Collector) maybeRun() error {
	if c.allocatedSinceCycle >= c.thresholdBytes {
		return c.Run()
	}
	return nil
}

func (c *Collector) insert(flags uint8, obj *Object, size int) Addr {
	addr := c.allocHandle()
	obj.flags = flags
	c.objects[addr] = obj
	c.accountAlloc(size)

	if flags&FlagTemporary != 0 {
		c.addTemporaryAddr(addr)
	} else {
		c.addRootAddr(addr)
	}
	return addr
}

// NewString allocates a managed string (spec §4.2 `new<T>`).
func (c *Collector) NewString(value string, flags uint8) (Addr, error) {
	if err := c.maybeRun(); err != nil {
		return 0, err
	}
	return c.insert(flags, &Object{Kind: KindStr, Str: value}, len(value)), nil
}

// NewArray allocates a primitive-array (spec §4.2 `new<T>`). String arrays
// are populated with fresh empty managed strings per spec §4.4.1 `newarray`.
func (c *Collector) NewArray(kind Kind, length int, flags uint8) (Addr, error) {
	if kind == KindRaw || kind == KindArrayRef {
		return 0, errf("NewArray: kind %s is not a primitive array kind", kind)
	}
	if err := c.maybeRun(); err != nil {
		return 0, err
	}

	width := kind.ElemWidth()
	data := make([]byte, length*width)
	addr := c.insert(flags, &Object{Kind: kind, Data: data}, len(data))

	if kind == KindArrayStr {
		for i := 0; i < length; i++ {
			strAddr, err := c.NewString("", FlagTemporary)
			if err != nil {
				return 0, err
			}
			binary.LittleEndian.PutUint64(c.objects[addr].Data[i*8:], strAddr)
			if err := c.RemoveTemporary(strAddr); err != nil {
				return 0, err
			}
		}
	}
	return addr, nil
}

// NewRaw allocates a zero-initialized raw struct of the given layout (spec
// §4.2 `new_raw`).
func (c *Collector) NewRaw(layoutID, size, alignment int, flags uint8) (Addr, error) {
	if !c.layouts.has(layoutID) {
		return 0, errf("tried to create object with unknown type layout index %d", layoutID)
	}
	if err := c.maybeRun(); err != nil {
		return 0, err
	}
	id := layoutID
	return c.insert(flags, &Object{Kind: KindRaw, LayoutID: &id, Alignment: alignment, Data: make([]byte, size)}, size), nil
}

// NewRefArray allocates a reference array whose elements are addresses of
// objects laid out per elementLayoutID (spec §4.2 `new_ref_array`).
func (c *Collector) NewRefArray(elementLayoutID, length int, flags uint8) (Addr, error) {
	if !c.layouts.has(elementLayoutID) {
		return 0, errf("tried to create object with unknown type layout index %d", elementLayoutID)
	}
	if err := c.maybeRun(); err != nil {
		return 0, err
	}
	id := elementLayoutID
	data := make([]byte, length*8)
	return c.insert(flags, &Object{Kind: KindArrayRef, LayoutID: &id, Data: data}, len(data)), nil
}

// --- root discipline ---

func (c *Collector) addRootAddr(addr Addr) {
	c.roots[addr]++
}

// AddRoot adds obj to the root set, incrementing its refcount (spec §4.2
// `add_root`). addr == 0 is an error, matching the reference's null check.
func (c *Collector) AddRoot(addr Addr) error {
	if addr == 0 {
		return errf("cannot add nullptr to root set")
	}
	c.addRootAddr(addr)
	return nil
}

// RemoveRoot decrements obj's root refcount, erasing it at zero (spec §4.2
// `remove_root`).
func (c *Collector) RemoveRoot(addr Addr) error {
	n, ok := c.roots[addr]
	if !ok {
		return errf("cannot remove root for object at %d, since it does not exist in the GC root set", addr)
	}
	if n == 0 {
		return errf("negative reference count for GC root %d", addr)
	}
	n--
	if n == 0 {
		delete(c.roots, addr)
	} else {
		c.roots[addr] = n
	}
	return nil
}

// AddPersistentSlice registers mem (a view into host-owned memory, e.g. a
// caller-supplied struct-typed argument copied into VM locals) as a
// persistent root whose layout is layoutID, returning its Addr identity
// (spec §4.2 `add_persistent`).
func (c *Collector) AddPersistentSlice(mem []byte, layoutID int) (Addr, error) {
	if len(mem) == 0 {
		return 0, errf("cannot add null object to persistent set")
	}
	if !c.layouts.has(layoutID) {
		return 0, errf("no type for layout id %d registered", layoutID)
	}

	addr := Addr(uintptr(unsafe.Pointer(&mem[0])))
	if e, ok := c.persistent[addr]; ok {
		e.refCount++
		return addr, nil
	}
	c.persistent[addr] = &persistentEntry{mem: mem, layoutID: layoutID, refCount: 1}
	return addr, nil
}

// RemovePersistent decrements a persistent registration, erasing it at zero
// (spec §4.2 `remove_persistent`).
func (c *Collector) RemovePersistent(addr Addr) error {
	e, ok := c.persistent[addr]
	if !ok {
		return errf("reference at %d does not exist in GC persistent object set", addr)
	}
	e.refCount--
	if e.refCount == 0 {
		delete(c.persistent, addr)
	}
	return nil
}

func (c *Collector) addTemporaryAddr(addr Addr) {
	if addr == 0 {
		return
	}
	c.temporaries[addr]++
}

// AddTemporary registers a value in flight on the operand stack so that a
// GC cycle mid-expression does not reclaim it (spec §4.2 `add_temporary`).
// It is a no-op for addr == 0.
func (c *Collector) AddTemporary(addr Addr) {
	c.addTemporaryAddr(addr)
}

// RemoveTemporary decrements a temporary's refcount, erasing it at zero. A
// no-op for addr == 0 (spec §4.2 `remove_temporary`).
func (c *Collector) RemoveTemporary(addr Addr) error {
	if addr == 0 {
		return nil
	}
	n, ok := c.temporaries[addr]
	if !ok {
		return errf("reference at %d does not exist in GC temporary object set", addr)
	}
	if n == 0 {
		return errf("temporary at %d has no references", addr)
	}
	n--
	if n == 0 {
		delete(c.temporaries, addr)
	} else {
		c.temporaries[addr] = n
	}
	return nil
}

// IsRoot, IsPersistent, IsTemporary report multiset membership.
func (c *Collector) IsRoot(addr Addr) bool       { _, ok := c.roots[addr]; return ok }
func (c *Collector) IsPersistent(addr Addr) bool { _, ok := c.persistent[addr]; return ok }
func (c *Collector) IsTemporary(addr Addr) bool  { _, ok := c.temporaries[addr]; return ok }

// --- layout registry delegation ---

func (c *Collector) RegisterTypeLayout(name string, offsets []int) (int, error) {
	return c.layouts.register(name, offsets)
}

func (c *Collector) CheckTypeLayout(name string, offsets []int) (int, error) {
	return c.layouts.check(name, offsets)
}

func (c *Collector) GetTypeLayoutIDByName(name string) (int, error) {
	return c.layouts.idOfName(name)
}

// GetTypeLayoutID returns the layout id recorded for obj's allocation.
func (c *Collector) GetTypeLayoutID(addr Addr) (int, error) {
	obj, ok := c.objects[addr]
	if !ok {
		return 0, errf("reference at %d does not exist in the GC object list", addr)
	}
	if obj.LayoutID == nil {
		return 0, errf("object at %d has no type layout", addr)
	}
	return *obj.LayoutID, nil
}

func (c *Collector) LayoutToString(layoutID int) (string, error) {
	return c.layouts.nameOf(layoutID)
}

// --- inspection ---

func (c *Collector) GetObjectType(addr Addr) (Kind, error) {
	obj, ok := c.objects[addr]
	if !ok {
		return 0, errf("reference at %d does not exist in the GC object list", addr)
	}
	return obj.Kind, nil
}

// Object returns the live object record for addr, or an error if unknown.
func (c *Collector) Object(addr Addr) (*Object, error) {
	obj, ok := c.objects[addr]
	if !ok {
		return nil, errf("reference at %d does not exist in the GC object list", addr)
	}
	return obj, nil
}

func (c *Collector) ObjectCount() int    { return len(c.objects) }
func (c *Collector) RootSetSize() int    { return len(c.roots) }
func (c *Collector) ByteSize() int       { return c.allocatedBytes }
func (c *Collector) ByteSizeSinceGC() int { return c.allocatedSinceCycle }
func (c *Collector) MinThresholdBytes() int { return c.minThresholdBytes }
func (c *Collector) ThresholdBytes() int    { return c.thresholdBytes }
func (c *Collector) GrowthFactor() float64  { return c.growthFactor }

// --- mark / sweep ---

func (c *Collector) markAddr(addr Addr) error {
	if addr == 0 {
		return nil
	}

	obj, ok := c.objects[addr]
	if !ok {
		entry, ok := c.persistent[addr]
		if !ok {
			// Not part of the GC set at all: nothing to mark (mirrors
			// mark_object's lenient handling of foreign addresses).
			return nil
		}
		if entry.refCount == 0 {
			return errf("cannot mark object: reference count is zero")
		}
		offsets, err := c.layouts.offsetsOf(entry.layoutID)
		if err != nil {
			return err
		}
		for _, off := range offsets {
			if off+8 > len(entry.mem) {
				return errf("persistent layout offset %d out of range", off)
			}
			ref := binary.LittleEndian.Uint64(entry.mem[off:])
			if err := c.markAddr(ref); err != nil {
				return err
			}
		}
		return nil
	}

	if obj.flags&flagReachable != 0 {
		return nil
	}
	obj.flags |= flagReachable

	switch obj.Kind {
	case KindArrayStr, KindArrayRef:
		for i := 0; i+8 <= len(obj.Data); i += 8 {
			ref := binary.LittleEndian.Uint64(obj.Data[i:])
			if err := c.markAddr(ref); err != nil {
				return err
			}
		}
	case KindRaw:
		if obj.LayoutID == nil {
			return errf("cannot mark object: missing layout information")
		}
		offsets, err := c.layouts.offsetsOf(*obj.LayoutID)
		if err != nil {
			return err
		}
		for _, off := range offsets {
			if off+8 > len(obj.Data) {
				return errf("struct layout offset %d out of range", off)
			}
			ref := binary.LittleEndian.Uint64(obj.Data[off:])
			if err := c.markAddr(ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run performs one full mark/sweep cycle (spec §4.2 "Mark"/"Sweep").
func (c *Collector) Run() error {
	objectSetSize := len(c.objects)

	roots := make(map[Addr]struct{})
	for addr := range c.roots {
		roots[addr] = struct{}{}
	}
	for addr := range c.persistent {
		roots[addr] = struct{}{}
	}
	for addr := range c.temporaries {
		roots[addr] = struct{}{}
	}

	for addr := range roots {
		if err := c.markAddr(addr); err != nil {
			return err
		}
	}

	liveBytes := 0
	for addr, obj := range c.objects {
		if obj.flags&flagReachable == 0 {
			if err := c.releaseAccounting(obj); err != nil {
				return err
			}
			delete(c.objects, addr)
			continue
		}
		obj.flags &^= flagReachable
		liveBytes += obj.Size()
	}

	if objectSetSize < len(c.objects) {
		return errf("object list grew during GC run: %d -> %d", objectSetSize, len(c.objects))
	}

	c.allocatedSinceCycle = 0
	c.thresholdBytes = maxInt(c.minThresholdBytes, int(float64(liveBytes)*c.growthFactor))
	c.cyclesRun++

	if c.onCycle != nil {
		c.onCycle(CycleStats{ObjectsBefore: objectSetSize, ObjectsAfter: len(c.objects), BytesLive: liveBytes})
	}
	return nil
}

func (c *Collector) releaseAccounting(obj *Object) error {
	size := obj.Size()
	if size > c.allocatedBytes {
		return errf("inconsistent allocation stats: object size > allocated_bytes")
	}
	c.allocatedBytes -= size
	return nil
}

// Reset frees every managed allocation and clears the roots/temporaries
// multisets (spec §7 "At the top of invoke, the context resets ... its GC").
func (c *Collector) Reset() {
	c.roots = make(map[Addr]int)
	c.temporaries = make(map[Addr]int)
	c.objects = make(map[Addr]*Object)
	c.allocatedBytes = 0
	c.allocatedSinceCycle = 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
