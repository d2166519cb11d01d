package build

import (
	"fmt"
	"os"
	"os/user"
	"slices"
	"strings"
	"time"

	"github.com/cochaviz/boxes/internal/version"
)

// NewBuildSpec validates opts against env and returns the spec for a build
// started now.
func NewBuildSpec(env Environment, opts Options) (BuildSpec, error) {
	return NewBuildSpecAt(env, opts, time.Now())
}

// NewBuildSpecAt is NewBuildSpec with an explicit construction time.
func NewBuildSpecAt(env Environment, opts Options, now time.Time) (BuildSpec, error) {
	provisioner := strings.TrimSpace(opts.Provisioner)
	if provisioner == "" {
		return BuildSpec{}, &MissingArgumentError{Argument: "provisioner"}
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return BuildSpec{}, &MissingArgumentError{Argument: "name"}
	}
	provider := strings.TrimSpace(opts.Provider)
	if provider == "" {
		return BuildSpec{}, &MissingArgumentError{Argument: "provider"}
	}
	template := strings.TrimSpace(opts.Template)
	if template == "" {
		return BuildSpec{}, &MissingArgumentError{Argument: "template"}
	}

	scripts, paths, err := resolveScripts(env, opts.Scripts)
	if err != nil {
		return BuildSpec{}, err
	}

	shellExec := opts.ShellExecCommand
	if shellExec == "" {
		shellExec = DefaultShellExecCommand
	}

	spec := BuildSpec{
		Name:             name,
		Description:      opts.Description,
		Template:         template,
		Provider:         provider,
		Provisioner:      provisionerConfig(provisioner, opts),
		ShellExecCommand: shellExec,
		Scripts:          scripts,
		ScriptPaths:      paths,
		Toggles: Toggles{
			Puppet:       opts.Puppet,
			PuppetServer: opts.PuppetServer,
			Foreman:      opts.Foreman,
			Ansible:      opts.Ansible,
			Chef:         opts.Chef,
			Docker:       opts.Docker,
			Bootstrap:    opts.Bootstrap,
		},
		Attribution: Attribution{
			Creator: firstNonEmpty(opts.AppCreator, currentUser()),
			Project: firstNonEmpty(opts.AppProject, DefaultAppProject),
			Version: firstNonEmpty(opts.AppVersion, version.Version),
		},
		BuildName: fmt.Sprintf("%s-%s", name, now.Format(buildNameLayout)),
		CreatedAt: now,
	}
	return spec, nil
}

func resolveScripts(env Environment, requested []string) ([]string, []string, error) {
	if len(requested) == 0 {
		return []string{}, []string{}, nil
	}

	var available []string
	if env != nil {
		available = env.AvailableScripts()
	}

	scripts := make([]string, 0, len(requested))
	paths := make([]string, 0, len(requested))
	for _, script := range requested {
		if !slices.Contains(available, script) {
			return nil, nil, &ScriptNotFoundError{Script: script}
		}
		scripts = append(scripts, script)
		paths = append(paths, env.ScriptPath(script))
	}
	return scripts, paths, nil
}

func provisionerConfig(kind string, opts Options) ProvisionerConfig {
	switch kind {
	case ProvisionerAWS:
		return AWSProvisioner{
			AccessKey: opts.AWSAccessKey,
			SecretKey: opts.AWSSecretKey,
			Region:    opts.AWSRegion,
			SourceAMI: opts.AWSSourceAMI,
			UserData:  opts.AWSUserData,
		}
	case ProvisionerVagrant:
		return VagrantProvisioner{}
	default:
		return GenericProvisioner{Name: kind}
	}
}

// RenderOptions returns the template data for spec. AWS keys are present only
// for the AWS provisioner.
func RenderOptions(spec BuildSpec) map[string]any {
	data := map[string]any{
		"name":           spec.Name,
		"description":    spec.Description,
		"build_name":     spec.BuildName,
		"provider":       spec.Provider,
		"provisioner":    spec.Provisioner.Kind(),
		"shell_exec_cmd": spec.ShellExecCommand,
		"scripts":        append([]string(nil), spec.Scripts...),
		"script_paths":   append([]string(nil), spec.ScriptPaths...),
		"puppet":         spec.Toggles.Puppet,
		"puppetserver":   spec.Toggles.PuppetServer,
		"foreman":        spec.Toggles.Foreman,
		"chef":           spec.Toggles.Chef,
		"ansible":        spec.Toggles.Ansible,
		"docker":         spec.Toggles.Docker,
		"bootstrap":      spec.Toggles.Bootstrap,
		"app_creator":    spec.Attribution.Creator,
		"app_project":    spec.Attribution.Project,
		"app_version":    spec.Attribution.Version,
	}

	if aws, ok := spec.Provisioner.(AWSProvisioner); ok {
		data["aws_access_key"] = aws.AccessKey
		data["aws_secret_key"] = aws.SecretKey
		data["aws_region"] = aws.Region
		data["aws_source_ami"] = aws.SourceAMI
		data["aws_user_data"] = aws.UserData
	}
	return data
}

func currentUser() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
