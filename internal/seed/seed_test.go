package seed

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kdomanski/iso9660"

	"github.com/cochaviz/boxes/internal/build"
	"github.com/cochaviz/boxes/internal/logging"
)

func readISOFile(t *testing.T, isoPath, want string) (string, bool) {
	t.Helper()

	f, err := os.Open(isoPath)
	if err != nil {
		t.Fatalf("open iso file: %v", err)
	}
	defer f.Close()

	image, err := iso9660.OpenImage(f)
	if err != nil {
		t.Fatalf("open iso image: %v", err)
	}
	label, err := image.Label()
	if err != nil {
		t.Fatalf("read label: %v", err)
	}
	if label != VolumeLabel {
		t.Fatalf("label = %q, want %q", label, VolumeLabel)
	}

	root, err := image.RootDir()
	if err != nil {
		t.Fatalf("get iso root: %v", err)
	}
	children, err := root.GetChildren()
	if err != nil {
		t.Fatalf("list iso root: %v", err)
	}
	for _, child := range children {
		if child.IsDir() || !strings.EqualFold(child.Name(), want) {
			continue
		}
		data, err := io.ReadAll(child.Reader())
		if err != nil {
			t.Fatalf("read %s: %v", want, err)
		}
		return string(data), true
	}
	return "", false
}

func TestUserData(t *testing.T) {
	t.Parallel()

	script := "#!/bin/sh\necho hi\n"
	got, err := UserData(script)
	if err != nil {
		t.Fatalf("UserData() error = %v", err)
	}
	if got != script {
		t.Fatalf("UserData(string) = %q, want passthrough", got)
	}

	got, err = UserData(nil)
	if err != nil {
		t.Fatalf("UserData() error = %v", err)
	}
	if got != "#cloud-config\n" {
		t.Fatalf("UserData(nil) = %q", got)
	}

	got, err = UserData(map[string]any{"packages": []string{"nginx"}})
	if err != nil {
		t.Fatalf("UserData() error = %v", err)
	}
	want := "#cloud-config\npackages:\n  - nginx\n"
	if got != want {
		t.Fatalf("UserData(map) = %q, want %q", got, want)
	}
}

func TestWriteSeed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "web01-cidata.iso")
	spec := build.BuildSpec{
		Name:      "web01",
		BuildName: "web01-20240101120000",
		Toggles:   build.Toggles{Bootstrap: "#!/bin/sh\ntrue\n"},
	}

	writer := &Writer{Logger: logging.Discard()}
	if err := writer.WriteSeed(path, spec); err != nil {
		t.Fatalf("WriteSeed() error = %v", err)
	}

	meta, ok := readISOFile(t, path, "meta-data")
	if !ok {
		t.Fatalf("meta-data missing from seed image")
	}
	if meta != "instance-id: web01-20240101120000\nlocal-hostname: web01\n" {
		t.Fatalf("meta-data = %q", meta)
	}

	user, ok := readISOFile(t, path, "user-data")
	if !ok {
		t.Fatalf("user-data missing from seed image")
	}
	if user != "#!/bin/sh\ntrue\n" {
		t.Fatalf("user-data = %q", user)
	}
}
