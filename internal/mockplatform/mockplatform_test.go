package mockplatform

import (
	"testing"

	"github.com/anscheduler/anscheduler/internal/vm"
)

func TestAllocPageAndFree(t *testing.T) {
	p := New()

	page, ok := p.AllocPage()
	if !ok || page == 0 {
		t.Fatalf("AllocPage() = (%d, %v), want a nonzero page", page, ok)
	}
	if p.AllocatedPages() != 1 {
		t.Errorf("AllocatedPages() = %d, want 1", p.AllocatedPages())
	}

	p.FreePage(page)
	if p.AllocatedPages() != 0 {
		t.Errorf("AllocatedPages() after free = %d, want 0", p.AllocatedPages())
	}
}

func TestAllocPageExhaustion(t *testing.T) {
	p := New(WithMaxPages(2))

	if _, ok := p.AllocPage(); !ok {
		t.Fatal("first AllocPage should succeed")
	}
	if _, ok := p.AllocPage(); !ok {
		t.Fatal("second AllocPage should succeed")
	}
	if _, ok := p.AllocPage(); ok {
		t.Fatal("third AllocPage should fail once maxPages is reached")
	}
}

func TestRootAllocMapLookupUnmap(t *testing.T) {
	p := New()

	root, ok := p.RootAlloc()
	if !ok {
		t.Fatal("RootAlloc failed")
	}

	page, _ := p.AllocPage()
	if !p.Map(root, 100, page, vm.Present|vm.Write|vm.User) {
		t.Fatal("Map failed")
	}

	dpage, flags := p.Lookup(root, 100)
	if dpage != page || flags != vm.Present|vm.Write|vm.User {
		t.Errorf("Lookup = (%d, %d), want (%d, %d)", dpage, flags, page, vm.Present|vm.Write|vm.User)
	}

	p.Unmap(root, 100)
	_, flags = p.Lookup(root, 100)
	if flags != 0 {
		t.Errorf("Lookup after Unmap flags = %d, want 0", flags)
	}
}

func TestMapUnknownRootFails(t *testing.T) {
	p := New()
	if p.Map(999, 1, 1, vm.Present) {
		t.Error("Map against an unallocated root should fail")
	}
}

func TestCPUAffinity(t *testing.T) {
	p := New(WithAffinity(0, 3))

	osCPU, ok := p.CPUAffinity(0)
	if !ok || osCPU != 3 {
		t.Errorf("CPUAffinity(0) = (%d, %v), want (3, true)", osCPU, ok)
	}
	if _, ok := p.CPUAffinity(1); ok {
		t.Error("CPUAffinity(1) should be unset")
	}
}
