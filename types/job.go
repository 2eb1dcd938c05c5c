package types

import "fmt"

// Job is the unit of scheduling: one (test, mode, cycle) triple. Jobs are
// value objects; two jobs are the same job iff their triples match.
type Job struct {
	Descriptor *TestDescriptor
	Mode       Mode
	Cycle      int
}

// Key uniquely identifies the job within a run.
func (j Job) Key() string {
	return fmt.Sprintf("%s:%s:%d", j.Descriptor.ID, j.Mode.Name, j.Cycle)
}

// DirName is the job's exclusive output directory name. It embeds the full
// triple so concurrent jobs can never collide.
func (j Job) DirName() string {
	return fmt.Sprintf("%s_%s_cycle%d", j.Descriptor.ID, j.Mode.Name, j.Cycle)
}

// Equal reports whether both jobs denote the same (test, mode, cycle).
func (j Job) Equal(other Job) bool {
	return j.Descriptor.ID == other.Descriptor.ID &&
		j.Mode.Name == other.Mode.Name &&
		j.Cycle == other.Cycle
}

func (j Job) String() string {
	return j.Key()
}
