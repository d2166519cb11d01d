package libvirt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	libvirt "libvirt.org/go/libvirt"

	"github.com/cochaviz/boxes/internal/build"
	"github.com/cochaviz/boxes/internal/logging"
)

// testURI selects libvirt's in-process test driver.
const testURI = "test:///default"

func requireTestDriver(t *testing.T) {
	t.Helper()
	conn, err := libvirt.NewConnect(testURI)
	if err != nil {
		t.Skipf("libvirt test driver unavailable: %v", err)
	}
	conn.Close()
}

func TestPreflightApplies(t *testing.T) {
	t.Parallel()

	p := &Preflight{}
	cases := map[string]bool{
		"qemu":       true,
		"libvirt":    true,
		"virtualbox": false,
		"amazon-ebs": false,
		"":           false,
	}
	for provider, want := range cases {
		if got := p.Applies(build.BuildSpec{Provider: provider}); got != want {
			t.Errorf("Applies(%q) = %v, want %v", provider, got, want)
		}
	}
}

func TestPreflightRequiresURI(t *testing.T) {
	t.Parallel()

	_, err := (&Preflight{}).Check(context.Background(), build.BuildSpec{})
	var buildErr *build.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("Check() error = %v, want BuildError", err)
	}
}

func TestPreflightWithoutNetwork(t *testing.T) {
	requireTestDriver(t)

	values, err := (&Preflight{ConnectURI: testURI}).Check(context.Background(), build.BuildSpec{Provider: "qemu"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("expected no template values, got %v", values)
	}
}

func TestPreflightCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Preflight{ConnectURI: testURI}).Check(ctx, build.BuildSpec{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Check() error = %v, want context.Canceled", err)
	}
}

func TestPreflightExistingNetwork(t *testing.T) {
	requireTestDriver(t)

	p := &Preflight{ConnectURI: testURI, NetworkName: "default", Logger: logging.Discard()}
	values, err := p.Check(context.Background(), build.BuildSpec{Provider: "qemu"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if bridge, _ := values[BridgeKey].(string); bridge == "" {
		t.Fatalf("expected the network bridge in %v", values)
	}
}

func TestPreflightMissingNetworkWithoutXML(t *testing.T) {
	requireTestDriver(t)

	p := &Preflight{ConnectURI: testURI, NetworkName: "boxes-missing", Logger: logging.Discard()}
	_, err := p.Check(context.Background(), build.BuildSpec{Provider: "qemu"})
	var buildErr *build.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("Check() error = %v, want BuildError", err)
	}
}

func TestPreflightDefinesNetworkFromXML(t *testing.T) {
	requireTestDriver(t)

	name := "boxes-preflight"
	xml := fmt.Sprintf(`<network>
  <name>%s</name>
  <bridge name="virbr-boxes"/>
  <ip address="192.168.250.1" netmask="255.255.255.0"/>
</network>`, name)
	path := filepath.Join(t.TempDir(), "network.xml")
	if err := os.WriteFile(path, []byte(xml), 0o644); err != nil {
		t.Fatalf("write network xml: %v", err)
	}

	p := &Preflight{ConnectURI: testURI, NetworkName: name, NetworkXMLPath: path, Logger: logging.Discard()}
	values, err := p.Check(context.Background(), build.BuildSpec{Provider: "libvirt"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if values[BridgeKey] != "virbr-boxes" {
		t.Fatalf("%s = %v, want virbr-boxes", BridgeKey, values[BridgeKey])
	}
}
