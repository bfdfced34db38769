package handle

import "testing"

type fakeObj struct {
	kind Kind
	name string
}

func (f *fakeObj) Kind() Kind { return f.kind }

func TestOpenTypeGetClose(t *testing.T) {
	table := NewTable()
	obj := &fakeObj{kind: KindMemoryObject, name: "a"}

	h := table.Open(obj)
	if !h.Valid() {
		t.Fatal("expected a valid handle")
	}

	kind, code := table.Type(h)
	if !code.Ok() || kind != KindMemoryObject {
		t.Fatalf("Type: kind=%v code=%v", kind, code)
	}

	got, code := Resolve[*fakeObj](table, h, KindMemoryObject)
	if !code.Ok() || got != obj {
		t.Fatalf("Resolve: got=%v code=%v", got, code)
	}

	if code := table.Close(h); !code.Ok() {
		t.Fatalf("Close: %v", code)
	}
	if _, code := table.Type(h); code.Ok() {
		t.Fatal("expected closed handle to be gone")
	}
}

func TestResolveRejectsWrongKind(t *testing.T) {
	table := NewTable()
	h := table.Open(&fakeObj{kind: KindProcess})

	if _, code := table.Get(h, KindThread); code.Ok() {
		t.Fatal("expected wrong-kind lookup to fail")
	}
}

func TestDuplicateSharesObject(t *testing.T) {
	table := NewTable()
	obj := &fakeObj{kind: KindPort}
	h1 := table.Open(obj)

	h2, code := table.Duplicate(h1)
	if !code.Ok() {
		t.Fatalf("Duplicate: %v", code)
	}
	if h2 == h1 {
		t.Fatal("expected a distinct handle number")
	}

	got1, _ := Resolve[*fakeObj](table, h1, KindPort)
	got2, _ := Resolve[*fakeObj](table, h2, KindPort)
	if got1 != got2 {
		t.Fatal("expected duplicated handles to resolve to the same object")
	}

	table.Close(h1)
	if _, code := table.Get(h2, KindPort); !code.Ok() {
		t.Fatal("expected the second handle to survive closing the first")
	}
}

func TestInvalidHandleOperations(t *testing.T) {
	table := NewTable()

	if _, code := table.Type(Invalid); code.Ok() {
		t.Fatal("expected invalid handle lookup to fail")
	}
	if code := table.Close(Handle(9999)); code.Ok() {
		t.Fatal("expected closing an unknown handle to fail")
	}
}
