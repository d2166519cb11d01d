package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	libvirt "libvirt.org/go/libvirt"

	"github.com/cochaviz/boxes/internal/build"
	"github.com/cochaviz/boxes/internal/logging"
)

// Ensure Preflight implements the build preflight interface.
var _ build.Preflight = (*Preflight)(nil)

// Providers that boot guests through libvirt.
var libvirtProviders = []string{"qemu", "libvirt"}

// Preflight makes sure the libvirt network a build attaches to exists and is
// running before the build tool starts.
type Preflight struct {
	ConnectURI     string
	NetworkName    string
	NetworkXMLPath string
	Logger         *slog.Logger
}

func (p *Preflight) logger() *slog.Logger {
	return logging.Ensure(p.Logger).With("component", "libvirt")
}

// Applies reports whether spec builds through a libvirt provider.
func (p *Preflight) Applies(spec build.BuildSpec) bool {
	return slices.Contains(libvirtProviders, spec.Provider)
}

// BridgeKey is the template value holding the bridge of the checked network.
const BridgeKey = "net_bridge"

// Check connects to libvirt and ensures the configured network is active.
// The network's bridge is returned under BridgeKey.
func (p *Preflight) Check(ctx context.Context, spec build.BuildSpec) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.ConnectURI == "" {
		return nil, &build.BuildError{Message: "libvirt connection URI is not configured"}
	}

	logger := p.logger().With("uri", p.ConnectURI, "build", spec.BuildName)
	conn, err := libvirt.NewConnect(p.ConnectURI)
	if err != nil {
		return nil, fmt.Errorf("connect to libvirt: %w", err)
	}
	defer conn.Close()

	if p.NetworkName == "" {
		logger.Debug("no network configured, skipping network check")
		return nil, nil
	}
	bridge, err := p.ensureNetwork(logger, conn)
	if err != nil {
		return nil, err
	}
	if bridge == "" {
		return nil, nil
	}
	return map[string]any{BridgeKey: bridge}, nil
}

// ensureNetwork ensures that the configured network exists and is active,
// and returns its bridge name.
func (p *Preflight) ensureNetwork(logger *slog.Logger, conn *libvirt.Connect) (string, error) {
	name := p.NetworkName
	network, err := conn.LookupNetworkByName(name)
	if err != nil {
		if !isInLibvirtErrors(err, libvirt.ERR_NO_NETWORK) {
			return "", fmt.Errorf("lookup network %q: %w", name, err)
		}
		if p.NetworkXMLPath == "" {
			return "", &build.BuildError{Message: fmt.Sprintf("network %q not found and no XML configuration provided", name)}
		}

		data, readErr := os.ReadFile(p.NetworkXMLPath)
		if readErr != nil {
			return "", fmt.Errorf("read network xml: %w", readErr)
		}

		network, err = conn.NetworkDefineXML(string(data))
		if err != nil {
			return "", fmt.Errorf("define network: %w", err)
		}
		logger.Info("defined libvirt network", "network", name)
	}
	defer network.Free()

	active, err := network.IsActive()
	if err != nil {
		return "", fmt.Errorf("query network active: %w", err)
	}
	if !active {
		if err := network.Create(); err != nil {
			return "", fmt.Errorf("start network: %w", err)
		}
		logger.Info("started libvirt network", "network", name)
	}

	if err := network.SetAutostart(true); err != nil {
		logger.Warn("unable to set network autostart", "network", name, "error", err)
	}

	bridge, err := network.GetBridgeName()
	if err != nil {
		// networks without a bridge, e.g. macvtap or hostdev pools
		logger.Debug("network has no bridge", "network", name, "error", err)
		return "", nil
	}
	logger.Debug("network ready", "network", name, "bridge", bridge)
	return bridge, nil
}

func isInLibvirtErrors(err error, codes ...libvirt.ErrorNumber) bool {
	if err == nil {
		return false
	}

	var libErr libvirt.Error
	if !errors.As(err, &libErr) {
		return false
	}

	return slices.Contains(codes, libErr.Code)
}
