package build

import "testing"

func TestVagrantBoxExtractor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{line: "Box 'web01.box' created", want: "web01.box", ok: true},
		{line: "==> vagrant (vagrant): Compressing: output-vagrant/package.box", want: "package.box", ok: true},
		{line: "    virtualbox-iso (vagrant): Creating Vagrant box for 'virtualbox' provider", ok: false},
		{line: "Build 'virtualbox-iso' finished: centos-7_1.0:virtualbox.box", want: "centos-7_1.0:virtualbox.box", ok: true},
		{line: "writing web01.boxes.tar", want: "web01.box", ok: true},
		{line: "output: a.box.box", want: "a.box", ok: true},
		{line: "", ok: false},
	}

	for _, tc := range cases {
		got, ok := VagrantBoxExtractor(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Errorf("VagrantBoxExtractor(%q) = (%q, %t), want (%q, %t)", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAMIExtractor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{line: "us-east-1: ami-0abc123def456", want: "ami-0abc123def456", ok: true},
		{line: "==> amazon-ebs: AMI: ami-19601070 (source ami-11111111)", want: "ami-19601070", ok: true},
		{line: "==> amazon-ebs: Creating temporary keypair", ok: false},
		{line: "ami-XYZ", ok: false},
	}

	for _, tc := range cases {
		got, ok := AMIExtractor(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Errorf("AMIExtractor(%q) = (%q, %t), want (%q, %t)", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}
