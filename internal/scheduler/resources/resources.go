// Package resources implements the scheduler's resource vectors and the
// satisfaction/quota arithmetic used by admission decisions (spec.md §4.3).
package resources

import "strconv"

// Vector is a resource envelope: fractional CPU cores, RAM in MiB, disk in
// MiB.
type Vector struct {
	CPU  float64
	RAM  float64
	Disk float64
}

// Defaults applied at launch time when a profile leaves a field blank.
// These are NOT applied to the profile itself (spec.md §4.3): a blank
// profile field is dropped, and Defaults only fills the record at launch.
var Defaults = Vector{CPU: 1.0, RAM: 512, Disk: 1024}

// ProfileResources parses the (possibly blank) string resource fields
// carried on an AgentProfile into a Vector, dropping blanks. Unparsable
// values are treated as blank.
func ProfileResources(cpu, ram, disk string) Vector {
	var v Vector
	if f, err := strconv.ParseFloat(cpu, 64); err == nil {
		v.CPU = f
	}
	if f, err := strconv.ParseFloat(ram, 64); err == nil {
		v.RAM = f
	}
	if f, err := strconv.ParseFloat(disk, 64); err == nil {
		v.Disk = f
	}
	return v
}

// WithDefaults fills any zero field of v with the corresponding Defaults
// field, for use when materializing a launch-time record from a profile.
func WithDefaults(v Vector) Vector {
	out := v
	if out.CPU == 0 {
		out.CPU = Defaults.CPU
	}
	if out.RAM == 0 {
		out.RAM = Defaults.RAM
	}
	if out.Disk == 0 {
		out.Disk = Defaults.Disk
	}
	return out
}

// Satisfies reports whether offered meets or exceeds required on every
// dimension (spec.md §4.3).
func Satisfies(required, offered Vector) bool {
	return offered.CPU >= required.CPU &&
		offered.RAM >= required.RAM &&
		offered.Disk >= required.Disk
}

// Quota is a per-role resource envelope reported by the executor:
// available capacity and current usage.
type Quota struct {
	Available Vector
	Usage     Vector
}

// QuotaAvailable reports whether req can be admitted against q without
// exceeding quota on any dimension. A zero Available component means
// "unmetered" for that dimension and is skipped (spec.md §4.3, B1).
func QuotaAvailable(q Quota, req Vector) bool {
	return availableDim(q.Available.CPU, q.Usage.CPU, req.CPU) &&
		availableDim(q.Available.RAM, q.Usage.RAM, req.RAM) &&
		availableDim(q.Available.Disk, q.Usage.Disk, req.Disk)
}

func availableDim(available, usage, req float64) bool {
	if available == 0 {
		return true
	}
	return usage+req <= available
}
