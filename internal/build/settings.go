package build

// Settings carries the host-side configuration a build runs with.
type Settings struct {
	// WorkingDir is where manifests are written and the build tool runs.
	WorkingDir string
	// EnvironmentVars are handed to the build tool in order; later keys win.
	EnvironmentVars []EnvVar
	// FailOnValidateStderr aborts validation on the first stderr line,
	// whatever the exit status.
	FailOnValidateStderr bool
	// CloudInitSeed writes a NoCloud seed image next to the manifest.
	CloudInitSeed bool
	// Tool is the build tool binary, "packer" when empty.
	Tool string
}

// DefaultTool is the build tool invoked when Settings.Tool is empty.
const DefaultTool = "packer"

// Environ folds EnvironmentVars into one assignment per key, keeping the
// position of the first occurrence and the value of the last.
func (s Settings) Environ() []EnvVar {
	if len(s.EnvironmentVars) == 0 {
		return nil
	}

	index := make(map[string]int, len(s.EnvironmentVars))
	folded := make([]EnvVar, 0, len(s.EnvironmentVars))
	for _, v := range s.EnvironmentVars {
		if i, ok := index[v.Key]; ok {
			folded[i].Value = v.Value
			continue
		}
		index[v.Key] = len(folded)
		folded = append(folded, v)
	}
	return folded
}

func (s Settings) tool() string {
	if s.Tool != "" {
		return s.Tool
	}
	return DefaultTool
}
