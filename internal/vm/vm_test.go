package vm

import "testing"

type fakeTable struct {
	nextRoot  Root
	roots     map[Root]bool
	mappings  map[Root]map[VirtPage]struct {
		dpage PhysPage
		flags PageFlags
	}
	allocFail bool
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		nextRoot: 1,
		roots:    make(map[Root]bool),
		mappings: make(map[Root]map[VirtPage]struct {
			dpage PhysPage
			flags PageFlags
		}),
	}
}

func (f *fakeTable) RootAlloc() (Root, bool) {
	if f.allocFail {
		return 0, false
	}
	r := f.nextRoot
	f.nextRoot++
	f.roots[r] = true
	f.mappings[r] = make(map[VirtPage]struct {
		dpage PhysPage
		flags PageFlags
	})
	return r, true
}

func (f *fakeTable) RootFree(root Root) {
	delete(f.roots, root)
	delete(f.mappings, root)
}

func (f *fakeTable) Map(root Root, vpage VirtPage, dpage PhysPage, flags PageFlags) bool {
	m, ok := f.mappings[root]
	if !ok {
		return false
	}
	m[vpage] = struct {
		dpage PhysPage
		flags PageFlags
	}{dpage, flags}
	return true
}

func (f *fakeTable) Unmap(root Root, vpage VirtPage) {
	if m, ok := f.mappings[root]; ok {
		delete(m, vpage)
	}
}

func (f *fakeTable) Lookup(root Root, vpage VirtPage) (PhysPage, PageFlags) {
	m, ok := f.mappings[root]
	if !ok {
		return 0, 0
	}
	e, ok := m[vpage]
	if !ok {
		return 0, 0
	}
	return e.dpage, e.flags
}

func TestFacadeMapLookupUnmap(t *testing.T) {
	pt := newFakeTable()
	f, ok := NewFacade(pt)
	if !ok {
		t.Fatal("NewFacade failed")
	}

	if !f.Map(10, 5, Present|Write|User) {
		t.Fatal("Map failed")
	}

	dpage, flags := f.Lookup(10)
	if dpage != 5 || flags != Present|Write|User {
		t.Errorf("Lookup(10) = (%d, %d), want (5, %d)", dpage, flags, Present|Write|User)
	}

	f.Unmap(10)
	dpage, flags = f.Lookup(10)
	if flags != 0 {
		t.Errorf("Lookup after Unmap = (%d, %d), want flags=0", dpage, flags)
	}
}

func TestFacadeAllocFailure(t *testing.T) {
	pt := newFakeTable()
	pt.allocFail = true
	if _, ok := NewFacade(pt); ok {
		t.Fatal("NewFacade should fail when RootAlloc fails")
	}
}

func TestFacadeFreeInvalidatesOperations(t *testing.T) {
	pt := newFakeTable()
	f, _ := NewFacade(pt)
	f.Free()

	if f.Map(1, 1, Present) {
		t.Error("Map after Free should return false")
	}
	if _, flags := f.Lookup(1); flags != 0 {
		t.Error("Lookup after Free should return flags=0")
	}
}

func TestUnallocSentinel(t *testing.T) {
	pt := newFakeTable()
	f, _ := NewFacade(pt)
	f.Map(20, 0, Unalloc)

	_, flags := f.Lookup(20)
	if flags&Unalloc == 0 {
		t.Error("expected Unalloc flag to round-trip through Map/Lookup")
	}
}
