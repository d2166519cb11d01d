package build

import "fmt"

// A BuildError represents an error that occurred during the build process.
type BuildError struct {
	Message string
}

// Error returns the error message.
func (e *BuildError) Error() string {
	return e.Message
}

// MissingArgumentError reports a required option that was not supplied.
type MissingArgumentError struct {
	Argument string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("The %s must be specified.", e.Argument)
}

// ScriptNotFoundError reports a requested script the environment does not know about.
type ScriptNotFoundError struct {
	Script string
}

func (e *ScriptNotFoundError) Error() string {
	return fmt.Sprintf("script %q is not available", e.Script)
}

// ValidateError reports a failed `validate` run of the build tool.
type ValidateError struct {
	ExitCode int
}

func (e *ValidateError) Error() string {
	return fmt.Sprintf("The template failed validation (exit status %d). Check the logs.", e.ExitCode)
}

// StderrOutputError reports a line written to stderr while stderr is treated as fatal.
type StderrOutputError struct {
	Step string
	Line string
}

func (e *StderrOutputError) Error() string {
	return fmt.Sprintf("%s wrote to stderr: %s", e.Step, e.Line)
}

// BuildRunError reports a build tool run that exited non-zero.
type BuildRunError struct {
	ExitCode int
}

func (e *BuildRunError) Error() string {
	return "The build didn't complete successfully. Check the logs."
}

// ArtifactNotFoundError reports a successful build whose output named no artifact.
type ArtifactNotFoundError struct {
	Provisioner string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("no %s artifact found in build output", e.Provisioner)
}
