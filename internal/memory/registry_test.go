package memory

import "testing"

func TestRegistryCreateIsIdempotent(t *testing.T) {
	reg := NewRegistry()

	p1, err := reg.Create("a", 64, 10, testHeaderSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p2, err := reg.Create("a", 128, 20, testHeaderSize)
	if err != nil {
		t.Fatalf("Create (collision): %v", err)
	}

	if p1 != p2 {
		t.Error("Create on a name collision did not return the pre-existing pool")
	}
	if p2.Capacity() != 10 {
		t.Errorf("colliding Create changed capacity to %d, want original 10", p2.Capacity())
	}
}

func TestRegistryAggregateUtilisation(t *testing.T) {
	reg := NewRegistry()

	a, _ := reg.Create("a", 64, 100, testHeaderSize)
	b, _ := reg.Create("b", 64, 100, testHeaderSize)

	for i := 0; i < 50; i++ {
		a.Acquire()
	}
	for i := 0; i < 30; i++ {
		b.Acquire()
	}

	got := reg.Utilisation()
	want := 80.0 / 200.0
	if got != want {
		t.Errorf("Utilisation() = %v, want %v", got, want)
	}
}

func TestRegistryPressureReemittedAtRegistryLevel(t *testing.T) {
	reg := NewRegistry()
	pool, _ := reg.Create("only", 64, 100, testHeaderSize)

	var registryPressureEvents int
	reg.Pressure.Subscribe(func(RegistryPressureEvent) { registryPressureEvents++ })

	for i := 0; i < 80; i++ {
		pool.Acquire()
	}

	if registryPressureEvents < 1 {
		t.Error("registry-level Pressure never fired when aggregate utilisation crossed 0.80")
	}
}

func TestRegistryGetAndList(t *testing.T) {
	reg := NewRegistry()
	reg.Create("a", 64, 10, testHeaderSize)
	reg.Create("b", 64, 10, testHeaderSize)

	if _, ok := reg.Get("a"); !ok {
		t.Error("Get(\"a\") missing after Create")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get(\"missing\") found a pool that was never created")
	}
	if len(reg.List()) != 2 {
		t.Errorf("List() has %d entries, want 2", len(reg.List()))
	}
}

func TestRegistryDropClosesPool(t *testing.T) {
	reg := NewRegistry()
	reg.Create("a", 64, 10, testHeaderSize)

	reg.Drop("a")
	if _, ok := reg.Get("a"); ok {
		t.Error("pool still present after Drop")
	}
}
