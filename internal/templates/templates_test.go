package templates

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func baseData() map[string]any {
	return map[string]any{
		"name":           "web01",
		"description":    "web tier",
		"build_name":     "web01-20240101120000",
		"provider":       "virtualbox",
		"provisioner":    "vagrant",
		"shell_exec_cmd": "chmod +x {{ .Path }}; {{ .Vars }} {{ .Path }}",
		"scripts":        []string{"base", "cleanup"},
		"script_paths":   []string{"/var/lib/boxes/scripts/base.sh", "/var/lib/boxes/scripts/cleanup.sh"},
		"bootstrap":      "yum -y update\nyum -y install nginx\n",
		"ansible":        "site.yml",
		"app_creator":    "ops",
		"app_project":    "default",
		"app_version":    "1.2.3",
	}
}

func decode(t *testing.T, rendered string) map[string]any {
	t.Helper()
	var manifest map[string]any
	if err := json.Unmarshal([]byte(rendered), &manifest); err != nil {
		t.Fatalf("rendered manifest is not JSON: %v\n%s", err, rendered)
	}
	return manifest
}

func TestRenderVagrantManifest(t *testing.T) {
	t.Parallel()

	renderer, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rendered, err := renderer.Render("vagrant-virtualbox", baseData())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	manifest := decode(t, rendered)

	builders := manifest["builders"].([]any)
	builder := builders[0].(map[string]any)
	if builder["vm_name"] != "web01-20240101120000" {
		t.Fatalf("unexpected vm_name: %v", builder["vm_name"])
	}

	provisioners := manifest["provisioners"].([]any)
	// release marker, two scripts, bootstrap, ansible
	if len(provisioners) != 5 {
		t.Fatalf("expected 5 provisioners, got %d", len(provisioners))
	}
	script := provisioners[1].(map[string]any)
	if script["script"] != "/var/lib/boxes/scripts/base.sh" {
		t.Fatalf("unexpected script path: %v", script["script"])
	}
	if script["execute_command"] != "chmod +x {{ .Path }}; {{ .Vars }} {{ .Path }}" {
		t.Fatalf("execute_command was altered: %v", script["execute_command"])
	}

	bootstrap := provisioners[3].(map[string]any)
	if diff := cmp.Diff([]any{"yum -y update", "yum -y install nginx"}, bootstrap["inline"]); diff != "" {
		t.Fatalf("bootstrap inline mismatch (-want +got):\n%s", diff)
	}

	post := manifest["post-processors"].([]any)[0].(map[string]any)
	if post["output"] != "web01.box" {
		t.Fatalf("unexpected box output: %v", post["output"])
	}
}

func TestRenderAWSManifest(t *testing.T) {
	t.Parallel()

	renderer, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	data := baseData()
	data["provisioner"] = "aws"
	data["provider"] = "amazon-ebs"
	data["aws_access_key"] = "AKIA000"
	data["aws_secret_key"] = "secret"
	data["aws_region"] = "eu-west-1"
	data["aws_source_ami"] = "ami-12345678"
	data["aws_user_data"] = "#!/bin/sh\necho hi"

	rendered, err := renderer.Render("aws-ebs", data)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	builder := decode(t, rendered)["builders"].([]any)[0].(map[string]any)

	want := map[string]any{
		"access_key": "AKIA000",
		"secret_key": "secret",
		"region":     "eu-west-1",
		"source_ami": "ami-12345678",
		"user_data":  "#!/bin/sh\necho hi",
		"ami_name":   "web01-20240101120000",
	}
	for key, value := range want {
		if builder[key] != value {
			t.Errorf("builder[%q] = %v, want %v", key, builder[key], value)
		}
	}
}

func TestRenderQemuWithoutVagrantHasNoPostProcessor(t *testing.T) {
	t.Parallel()

	renderer, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	data := baseData()
	data["provisioner"] = "qemu"
	data["scripts"] = []string{}
	data["script_paths"] = []string{}
	data["seed_iso"] = "web01-20240101120000-cidata.iso"

	rendered, err := renderer.Render("qemu", data)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	manifest := decode(t, rendered)
	if _, ok := manifest["post-processors"]; ok {
		t.Fatalf("unexpected post-processors for provisioner qemu")
	}
	builder := manifest["builders"].([]any)[0].(map[string]any)
	if _, ok := builder["qemuargs"]; !ok {
		t.Fatalf("expected seed image to be attached")
	}
	if _, ok := builder["net_bridge"]; ok {
		t.Fatalf("unexpected net_bridge without a libvirt network")
	}
	if len(manifest["provisioners"].([]any)) != 2 {
		t.Fatalf("expected release marker and ansible only, got %v", manifest["provisioners"])
	}
}

func TestRenderQemuAttachesBridge(t *testing.T) {
	t.Parallel()

	renderer, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	data := baseData()
	data["provisioner"] = "vagrant"
	data["net_bridge"] = "virbr0"

	rendered, err := renderer.Render("qemu", data)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	manifest := decode(t, rendered)
	builder := manifest["builders"].([]any)[0].(map[string]any)
	if builder["net_bridge"] != "virbr0" {
		t.Fatalf("net_bridge = %v, want virbr0", builder["net_bridge"])
	}
	script := manifest["provisioners"].([]any)[1].(map[string]any)
	if script["script"] != "/var/lib/boxes/scripts/base.sh" {
		t.Fatalf("unexpected script path: %v", script["script"])
	}
}

func TestRenderEscapesStringValues(t *testing.T) {
	t.Parallel()

	renderer, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	data := baseData()
	data["name"] = `web"01\x`
	data["app_project"] = `it's "quoted"`
	data["app_creator"] = `C:\ops`

	for _, name := range []string{"vagrant-virtualbox", "qemu", "aws-ebs"} {
		rendered, err := renderer.Render(name, data)
		if err != nil {
			t.Fatalf("Render(%s) error = %v", name, err)
		}
		manifest := decode(t, rendered)

		release := manifest["provisioners"].([]any)[0].(map[string]any)
		vars := release["environment_vars"].([]any)
		if vars[0] != `BOXES_NAME=web"01\x` || vars[1] != `BOXES_PROJECT=it's "quoted"` {
			t.Fatalf("%s: environment_vars = %v", name, vars)
		}
		if posts, ok := manifest["post-processors"].([]any); ok {
			if output := posts[0].(map[string]any)["output"]; output != `web"01\x.box` {
				t.Fatalf("%s: box output = %v", name, output)
			}
		}
	}
}

func TestRenderPrefersTemplateDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	custom := `{"builders": [{"type": "null", "name": {{ name|json }}}]}`
	if err := os.WriteFile(filepath.Join(dir, "qemu"+Extension), []byte(custom), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "custom"+Extension), []byte(custom), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	renderer, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rendered, err := renderer.Render("qemu", baseData())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	builder := decode(t, rendered)["builders"].([]any)[0].(map[string]any)
	if builder["type"] != "null" {
		t.Fatalf("expected on-disk template to win, got %v", builder["type"])
	}

	names, err := renderer.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"aws-ebs", "custom", "qemu", "vagrant-virtualbox"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	t.Parallel()

	renderer, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := renderer.Render("does-not-exist", baseData()); err == nil {
		t.Fatalf("Render() error = nil, want error")
	}
	if _, err := renderer.Render("", baseData()); err == nil {
		t.Fatalf("Render() error = nil, want error")
	}
}
