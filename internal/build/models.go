package build

import (
	"time"

	"github.com/cochaviz/boxes/internal/artifacts"
)

// Provisioner names with dedicated artifact handling.
const (
	ProvisionerAWS     = "aws"
	ProvisionerVagrant = "vagrant"
)

// DefaultShellExecCommand is the Packer shell provisioner execute_command used
// when the options do not override it.
const DefaultShellExecCommand = "chmod +x {{ .Path }}; {{ .Vars }} {{ .Path }}"

// DefaultAppProject is the attribution project used when none is supplied.
const DefaultAppProject = "default"

// buildNameLayout renders timestamps as YYYYMMDDHHMMSS.
const buildNameLayout = "20060102150405"

// Options is the raw, user-supplied input for a build. Empty strings count as absent.
type Options struct {
	Name             string   `yaml:"name" json:"name"`
	Description      string   `yaml:"description,omitempty" json:"description,omitempty"`
	Template         string   `yaml:"template" json:"template"`
	Provider         string   `yaml:"provider" json:"provider"`
	Provisioner      string   `yaml:"provisioner" json:"provisioner"`
	ShellExecCommand string   `yaml:"shell_exec_command,omitempty" json:"shell_exec_command,omitempty"`
	Scripts          []string `yaml:"scripts,omitempty" json:"scripts,omitempty"`

	Puppet       any `yaml:"puppet,omitempty" json:"puppet,omitempty"`
	PuppetServer any `yaml:"puppetserver,omitempty" json:"puppetserver,omitempty"`
	Foreman      any `yaml:"foreman,omitempty" json:"foreman,omitempty"`
	Ansible      any `yaml:"ansible,omitempty" json:"ansible,omitempty"`
	Chef         any `yaml:"chef,omitempty" json:"chef,omitempty"`
	Docker       any `yaml:"docker,omitempty" json:"docker,omitempty"`
	Bootstrap    any `yaml:"bootstrap,omitempty" json:"bootstrap,omitempty"`

	AppCreator string `yaml:"app_creator,omitempty" json:"app_creator,omitempty"`
	AppProject string `yaml:"app_project,omitempty" json:"app_project,omitempty"`
	AppVersion string `yaml:"app_version,omitempty" json:"app_version,omitempty"`

	AWSAccessKey string `yaml:"aws_access_key,omitempty" json:"aws_access_key,omitempty"`
	AWSSecretKey string `yaml:"aws_secret_key,omitempty" json:"aws_secret_key,omitempty"`
	AWSRegion    string `yaml:"aws_region,omitempty" json:"aws_region,omitempty"`
	AWSSourceAMI string `yaml:"aws_source_ami,omitempty" json:"aws_source_ami,omitempty"`
	AWSUserData  string `yaml:"aws_user_data,omitempty" json:"aws_user_data,omitempty"`
}

// Toggles holds the provisioning blobs passed through to the template untouched.
type Toggles struct {
	Puppet       any
	PuppetServer any
	Foreman      any
	Ansible      any
	Chef         any
	Docker       any
	Bootstrap    any
}

// Attribution records who built an image and for which project.
type Attribution struct {
	Creator string
	Project string
	Version string
}

// BuildSpec is the validated, immutable description of a single build run.
// ScriptPaths holds the host location of each entry in Scripts.
type BuildSpec struct {
	Name             string
	Description      string
	Template         string
	Provider         string
	Provisioner      ProvisionerConfig
	ShellExecCommand string
	Scripts          []string
	ScriptPaths      []string
	Toggles          Toggles
	Attribution      Attribution

	// BuildName is {Name}-{YYYYMMDDHHMMSS}, fixed at construction.
	BuildName string
	CreatedAt time.Time
}

// ManifestFile is the manifest filename relative to the working directory.
func (s BuildSpec) ManifestFile() string {
	return s.BuildName + ".json"
}

// SeedFile is the cloud-init seed image filename relative to the working directory.
func (s BuildSpec) SeedFile() string {
	return s.BuildName + "-cidata.iso"
}

// ProvisionerConfig is the provisioner-specific part of a BuildSpec.
// Implementations are AWSProvisioner, VagrantProvisioner and GenericProvisioner.
type ProvisionerConfig interface {
	// Kind returns the provisioner name as given in the options.
	Kind() string
	// Extractor returns the artifact extractor for build output, or nil.
	Extractor() ArtifactExtractor
}

// AWSProvisioner produces an AMI in EC2. Credentials are opaque pass-through strings.
type AWSProvisioner struct {
	AccessKey string
	SecretKey string
	Region    string
	SourceAMI string
	UserData  string
}

func (AWSProvisioner) Kind() string { return ProvisionerAWS }
func (AWSProvisioner) Extractor() ArtifactExtractor { return AMIExtractor }

// VagrantProvisioner produces a local .box file.
type VagrantProvisioner struct{}

func (VagrantProvisioner) Kind() string { return ProvisionerVagrant }
func (VagrantProvisioner) Extractor() ArtifactExtractor { return VagrantBoxExtractor }

// GenericProvisioner covers every other backend; it has no artifact handoff.
type GenericProvisioner struct {
	Name string
}

func (p GenericProvisioner) Kind() string { return p.Name }
func (GenericProvisioner) Extractor() ArtifactExtractor { return nil }

// Stream identifies which subprocess pipe a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is a single line of subprocess output.
type Line struct {
	Stream Stream
	Text   string
}

// EnvVar is a single environment variable assignment.
type EnvVar struct {
	Key   string
	Value string
}

// Invocation describes one run of the external build tool.
type Invocation struct {
	Args []string
	Dir  string
	// Env is applied on top of the parent environment; later entries win.
	Env []EnvVar
}

// Result describes a completed build run.
type Result struct {
	BuildName    string `json:"build_name"`
	ManifestPath string `json:"manifest_path"`
	// Artifact is empty for provisioners without an artifact handoff.
	Artifact artifacts.Artifact `json:"artifact,omitzero"`
}
