// Package seed writes cloud-init NoCloud seed images for builds that boot
// cloud images.
package seed

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/boxes/internal/build"
	"github.com/cochaviz/boxes/internal/logging"
)

// VolumeLabel is the label cloud-init looks for on NoCloud media.
const VolumeLabel = "cidata"

const cloudConfigHeader = "#cloud-config\n"

// Ensure Writer satisfies the build's seed writer interface.
var _ build.SeedWriter = (*Writer)(nil)

// Data is the content of a seed image.
type Data struct {
	UserData string
	MetaData string
}

// Writer produces seed images from build specs.
type Writer struct {
	Logger *slog.Logger
}

// WriteSeed writes the seed image for spec to path.
func (w *Writer) WriteSeed(path string, spec build.BuildSpec) error {
	userData, err := UserData(spec.Toggles.Bootstrap)
	if err != nil {
		return err
	}
	data := Data{
		UserData: userData,
		MetaData: MetaData(spec.BuildName, spec.Name),
	}
	if err := WriteNoCloudISO(path, data); err != nil {
		return err
	}
	logging.Ensure(w.Logger).With("component", "seed").Debug("wrote seed image", "path", path)
	return nil
}

// UserData renders bootstrap as cloud-init user data. Strings are used as-is,
// nil yields an empty cloud-config and anything else is encoded as a
// cloud-config document.
func UserData(bootstrap any) (string, error) {
	switch v := bootstrap.(type) {
	case nil:
		return cloudConfigHeader, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return cloudConfigHeader, nil
		}
		return v, nil
	default:
		var buf bytes.Buffer
		buf.WriteString(cloudConfigHeader)
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return "", fmt.Errorf("encode user data: %w", err)
		}
		if err := enc.Close(); err != nil {
			return "", fmt.Errorf("encode user data: %w", err)
		}
		return buf.String(), nil
	}
}

// MetaData renders the NoCloud meta-data document.
func MetaData(instanceID, hostname string) string {
	return fmt.Sprintf("instance-id: %s\nlocal-hostname: %s\n", instanceID, hostname)
}

// WriteNoCloudISO writes data into an ISO9660 image at path labelled cidata.
func WriteNoCloudISO(path string, data Data) error {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("create iso writer: %w", err)
	}
	defer writer.Cleanup()

	if err := writer.AddFile(strings.NewReader(data.UserData), "user-data"); err != nil {
		return fmt.Errorf("stage user-data: %w", err)
	}
	if err := writer.AddFile(strings.NewReader(data.MetaData), "meta-data"); err != nil {
		return fmt.Errorf("stage meta-data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure seed directory: %w", err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create seed image: %w", err)
	}
	if err := writer.WriteTo(out, VolumeLabel); err != nil {
		out.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write seed image: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("finalize seed image: %w", err)
	}
	return nil
}
