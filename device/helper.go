package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/redshiftplayer/redshift-sync/logging"
)

// helperUnavailableSentinel is printed by the helpers when their python
// toolchain is missing.
const helperUnavailableSentinel = "NO_PYMOBILEDEVICE3"

// runHelper executes one helper and returns its stdout. Helpers always
// print JSON on stdout, even on failure.
func runHelper(ctx context.Context, helperDir, name string, args ...string) ([]byte, error) {
	bin := name
	if helperDir != "" {
		bin = filepath.Join(helperDir, name)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.Output()
	if len(out) > 0 && strings.Contains(string(out), helperUnavailableSentinel) {
		return nil, ErrHelperUnavailable
	}
	if err != nil {
		return out, fmt.Errorf("helper %s: %w", name, err)
	}
	return out, nil
}

// HelperLister enumerates attached devices by invoking the list helper.
type HelperLister struct {
	HelperDir string
}

// List returns the (vendor, product) keys of every attached device.
func (h HelperLister) List(ctx context.Context) ([]Key, error) {
	out, err := runHelper(ctx, h.HelperDir, "redshift-list-devices")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Success bool `json:"success"`
		Devices []struct {
			VendorID  uint16 `json:"vendorId"`
			ProductID uint16 `json:"productId"`
		} `json:"devices"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("parse device list: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("device list failed: %s", resp.Error)
	}
	keys := make([]Key, 0, len(resp.Devices))
	for _, d := range resp.Devices {
		keys = append(keys, Key{VendorID: d.VendorID, ProductID: d.ProductID})
	}
	return keys, nil
}

// HelperTransport pushes and pulls files through the USB helper processes.
// Each call is one blocking subprocess; the transport is single-connection
// by construction.
type HelperTransport struct {
	HelperDir string
	UDID      string // empty targets the first attached device
	method    string
}

// NewHelperTransport creates a transport for the given method name
// ("usb" or "app-usb") targeting the device with the given UDID.
func NewHelperTransport(helperDir, udid, method string) *HelperTransport {
	return &HelperTransport{HelperDir: helperDir, UDID: udid, method: method}
}

// Name implements Transport.
func (t *HelperTransport) Name() string { return t.method }

// ListDirectory implements Transport.
func (t *HelperTransport) ListDirectory(ctx context.Context, path string) ([]RemoteFile, error) {
	out, err := runHelper(ctx, t.HelperDir, "redshift-list-files", t.UDID, path)
	if err != nil {
		return nil, err
	}
	var files []RemoteFile
	if err := json.Unmarshal(out, &files); err != nil {
		// Helpers report errors as an object rather than the array.
		var failure struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if jerr := json.Unmarshal(out, &failure); jerr == nil && failure.Error != "" {
			return nil, fmt.Errorf("list %s: %s (%s)", path, failure.Error, failure.Message)
		}
		return nil, fmt.Errorf("parse file list: %w", err)
	}
	return files, nil
}

// PushFile implements Transport.
func (t *HelperTransport) PushFile(ctx context.Context, localPath, remotePath string) error {
	if _, err := runHelper(ctx, t.HelperDir, "redshift-push-file", t.UDID, localPath, remotePath); err != nil {
		return err
	}
	logging.Sub("transport").Debug("pushed", "local", localPath, "remote", remotePath)
	return nil
}

// PullFile implements Transport.
func (t *HelperTransport) PullFile(ctx context.Context, remotePath, localPath string) error {
	if _, err := runHelper(ctx, t.HelperDir, "redshift-pull-file", t.UDID, remotePath, localPath); err != nil {
		return err
	}
	logging.Sub("transport").Debug("pulled", "remote", remotePath, "local", localPath)
	return nil
}

// QueryDeviceInfo implements Transport. The query fails on locked or
// untrusted devices; callers fall back to the static table resolver.
func (t *HelperTransport) QueryDeviceInfo(ctx context.Context) (Info, error) {
	args := []string{}
	if t.UDID != "" {
		args = append(args, t.UDID)
	}
	out, err := runHelper(ctx, t.HelperDir, "redshift-device-info", args...)
	if err != nil {
		return Info{}, err
	}
	var resp struct {
		Success bool   `json:"success"`
		Name    string `json:"name"`
		Model   string `json:"model"`
		UDID    string `json:"udid"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return Info{}, fmt.Errorf("parse device info: %w", err)
	}
	if !resp.Success {
		return Info{}, fmt.Errorf("device info failed: %s", resp.Error)
	}
	return Info{
		Class: classFromModel(resp.Model),
		Model: resp.Model,
		Name:  resp.Name,
		UDID:  resp.UDID,
	}, nil
}

// classFromModel maps a ProductType string like "iPhone14,5" to a class.
func classFromModel(model string) Class {
	switch {
	case strings.HasPrefix(model, "iPhone"):
		return ClassPhone
	case strings.HasPrefix(model, "iPad"):
		return ClassTablet
	case strings.HasPrefix(model, "iPod"):
		return ClassPlayer
	default:
		return ClassUnknown
	}
}
