package builtin

import "testing"

// sortProcessesBy is an insertion sort; exercise it directly rather than
// through TopProcesses, which depends on the live process table.
func TestSortProcessesByCPUDescending(t *testing.T) {
	procs := []ProcessInfo{
		{PID: 1, CPUPercent: 5},
		{PID: 2, CPUPercent: 90},
		{PID: 3, CPUPercent: 40},
		{PID: 4, CPUPercent: 90},
	}

	sortProcessesBy(procs, func(a, b ProcessInfo) bool { return a.CPUPercent > b.CPUPercent })

	want := []int32{2, 4, 3, 1}
	for i, pid := range want {
		if procs[i].PID != pid {
			t.Fatalf("position %d: want pid %d, got %d (%v)", i, pid, procs[i].PID, procs)
		}
	}
}

func TestSortProcessesByMemoryAscendingIsStable(t *testing.T) {
	procs := []ProcessInfo{
		{PID: 1, MemPercent: 1},
		{PID: 2, MemPercent: 1},
		{PID: 3, MemPercent: 0.5},
	}

	sortProcessesBy(procs, func(a, b ProcessInfo) bool { return a.MemPercent < b.MemPercent })

	if procs[0].PID != 3 {
		t.Fatalf("want lowest mem_percent first, got %v", procs)
	}
	if procs[1].PID != 1 || procs[2].PID != 2 {
		t.Fatalf("want equal-weight entries to keep their relative order, got %v", procs)
	}
}

func TestSortProcessesByEmptyAndSingleton(t *testing.T) {
	var empty []ProcessInfo
	sortProcessesBy(empty, func(a, b ProcessInfo) bool { return a.CPUPercent > b.CPUPercent })

	single := []ProcessInfo{{PID: 7, CPUPercent: 3}}
	sortProcessesBy(single, func(a, b ProcessInfo) bool { return a.CPUPercent > b.CPUPercent })
	if single[0].PID != 7 {
		t.Fatalf("singleton slice must be unchanged, got %v", single)
	}
}
