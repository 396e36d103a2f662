package conf

import (
	"os"
	"runtime"
	"testing"
)

func TestSysRAMMB(t *testing.T) {
	got := sysRAMMB()
	if got <= 0 {
		t.Errorf("sysRAMMB() = %d, want > 0", got)
	}
	// Sanity: must be at least 64 MB (no modern machine has less).
	if got < 64 {
		t.Errorf("sysRAMMB() = %d MB, seems implausibly small", got)
	}
}

func TestSysCPUCount(t *testing.T) {
	got := sysCPUCount()
	want := runtime.GOMAXPROCS(0)
	if got != want {
		t.Errorf("sysCPUCount() = %d, want %d (GOMAXPROCS, not NumCPU, so a cgroup CPU quota is respected)", got, want)
	}
	if got < 1 {
		t.Errorf("sysCPUCount() = %d, want >= 1", got)
	}
}

func TestCgroupMemoryLimitMBIgnoresUnsetSentinel(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/memory.max"
	if err := os.WriteFile(path, []byte("max\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	orig := cgroupMemoryLimitPaths
	cgroupMemoryLimitPaths = []string{path}
	defer func() { cgroupMemoryLimitPaths = orig }()

	if got := cgroupMemoryLimitMB(); got != 0 {
		t.Errorf("cgroupMemoryLimitMB() = %d for an unset (\"max\") limit, want 0", got)
	}
}

func TestCgroupMemoryLimitMBParsesBytes(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/memory.max"
	if err := os.WriteFile(path, []byte("2147483648\n"), 0o644); err != nil { // 2 GiB
		t.Fatalf("WriteFile: %v", err)
	}

	orig := cgroupMemoryLimitPaths
	cgroupMemoryLimitPaths = []string{path}
	defer func() { cgroupMemoryLimitPaths = orig }()

	if got, want := cgroupMemoryLimitMB(), 2048; got != want {
		t.Errorf("cgroupMemoryLimitMB() = %d, want %d", got, want)
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{5, 1, 10, 5},     // within range
		{0, 1, 10, 1},     // below min
		{15, 1, 10, 10},   // above max
		{1, 1, 10, 1},     // at min
		{10, 1, 10, 10},   // at max
		{-5, -10, -1, -5}, // negative range
	}
	for _, tt := range tests {
		got := clampInt(tt.v, tt.lo, tt.hi)
		if got != tt.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestNextPowerOf2(t *testing.T) {
	tests := []struct {
		v, want int
	}{
		{-1, 1}, // v <= 0: returns 1
		{0, 1},  // v <= 0: returns 1
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 4},
		{5, 8},
		{7, 8},
		{8, 8},
		{9, 16},
		{16, 16},
		{17, 32},
		{31, 32},
		{32, 32},
		{33, 64},
		{64, 64},
	}
	for _, tt := range tests {
		got := nextPowerOf2(tt.v)
		if got != tt.want {
			t.Errorf("nextPowerOf2(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

// TestPerformanceAutoTunedDefaults checks that Performance defaults are
// within the validation bounds validate() itself enforces.
func TestPerformanceAutoTunedDefaults(t *testing.T) {
	for _, role := range []string{"client", "server"} {
		t.Run(role, func(t *testing.T) {
			p := Performance{}
			p.setDefaults(role)

			if p.WorkerCount < 1 || p.WorkerCount > 64 {
				t.Errorf("WorkerCount = %d, want in [1, 64]", p.WorkerCount)
			}
			if p.WorkerQueueCapacity != 1000 {
				t.Errorf("WorkerQueueCapacity = %d, want 1000", p.WorkerQueueCapacity)
			}
			if p.StealIntervalMs != 100 {
				t.Errorf("StealIntervalMs = %d, want 100", p.StealIntervalMs)
			}
			if p.IdleTimeoutMs != 100 {
				t.Errorf("IdleTimeoutMs = %d, want 100", p.IdleTimeoutMs)
			}
			if p.SaturationThreshold != 500 {
				t.Errorf("SaturationThreshold = %d, want 500", p.SaturationThreshold)
			}
			if p.PoolPressureThreshold != 0.80 {
				t.Errorf("PoolPressureThreshold = %v, want 0.80", p.PoolPressureThreshold)
			}

			if errs := p.validate(); len(errs) > 0 {
				t.Errorf("validate() returned errors on autotuned defaults: %v", errs)
			}
		})
	}
}

// TestPerformanceCustomValuesPreserved checks that explicit values survive
// setDefaults unmodified.
func TestPerformanceCustomValuesPreserved(t *testing.T) {
	p := Performance{WorkerCount: 7, WorkerQueueCapacity: 42, PoolPressureThreshold: 0.5}
	p.setDefaults("server")

	if p.WorkerCount != 7 {
		t.Errorf("WorkerCount was overridden: got %d, want 7", p.WorkerCount)
	}
	if p.WorkerQueueCapacity != 42 {
		t.Errorf("WorkerQueueCapacity was overridden: got %d, want 42", p.WorkerQueueCapacity)
	}
	if p.PoolPressureThreshold != 0.5 {
		t.Errorf("PoolPressureThreshold was overridden: got %v, want 0.5", p.PoolPressureThreshold)
	}
}
