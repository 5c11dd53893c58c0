package pairing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/redshiftplayer/redshift-sync/device"
)

// WifiTransport implements the device transport adapter over the direct
// HTTP endpoint the companion app serves on its LAN address.
type WifiTransport struct {
	address string
	token   string
	client  *http.Client
}

// NewWifiTransport creates a transport for a reconnected device's LAN
// address and authorization token.
func NewWifiTransport(address, token string) *WifiTransport {
	return &WifiTransport{address: address, token: token, client: &http.Client{Timeout: 5 * time.Minute}}
}

// Name implements device.Transport.
func (t *WifiTransport) Name() string { return "wifi" }

func (t *WifiTransport) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("device returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// ListDirectory implements device.Transport.
func (t *WifiTransport) ListDirectory(ctx context.Context, path string) ([]device.RemoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.address+"/files?path="+url.QueryEscape(path), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	defer resp.Body.Close()

	var files []device.RemoteFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return files, nil
}

// PushFile implements device.Transport.
func (t *WifiTransport) PushFile(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		t.address+"/files?path="+url.QueryEscape(remotePath), f)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	resp.Body.Close()
	return nil
}

// PullFile implements device.Transport.
func (t *WifiTransport) PullFile(ctx context.Context, remotePath, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.address+"/files/content?path="+url.QueryEscape(remotePath), nil)
	if err != nil {
		return err
	}
	resp, err := t.do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	defer resp.Body.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	return nil
}

// QueryDeviceInfo implements device.Transport.
func (t *WifiTransport) QueryDeviceInfo(ctx context.Context) (device.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.address+"/info", nil)
	if err != nil {
		return device.Info{}, err
	}
	resp, err := t.do(req)
	if err != nil {
		return device.Info{}, fmt.Errorf("query info: %w", err)
	}
	defer resp.Body.Close()

	var info device.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return device.Info{}, fmt.Errorf("parse info: %w", err)
	}
	return info, nil
}
