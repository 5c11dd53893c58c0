package device

import (
	"context"
	"errors"
)

// Transport is the device transport adapter. The engine depends only on
// this surface; whether it is backed by helper subprocesses, a mounted
// filesystem, or an HTTP upload endpoint is the implementation's business.
type Transport interface {
	// Name identifies the transfer method ("usb", "wifi", "app-usb").
	Name() string

	// ListDirectory enumerates files under the given remote path.
	ListDirectory(ctx context.Context, path string) ([]RemoteFile, error)

	// PushFile copies a local file to the device.
	PushFile(ctx context.Context, localPath, remotePath string) error

	// PullFile copies a device file to the local path.
	PullFile(ctx context.Context, remotePath, localPath string) error

	// QueryDeviceInfo asks the device for its identity. Fails on locked or
	// untrusted devices.
	QueryDeviceInfo(ctx context.Context) (Info, error)
}

// Lister enumerates currently attached compatible hardware. The discovery
// loop polls it because the underlying transport library has no attach or
// detach eventing.
type Lister interface {
	List(ctx context.Context) ([]Key, error)
}

// ErrHelperUnavailable means the helper toolchain is not installed. It is
// distinct from connection errors so callers do not retry what cannot work.
var ErrHelperUnavailable = errors.New("device helper unavailable")

// ErrNotPaired means no stored pairing exists for the requested device.
var ErrNotPaired = errors.New("device not paired")
