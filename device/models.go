// Package device discovers attached hardware by polling, classifies it, and
// exposes the transport adapter the sync engine pushes files through.
package device

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// Class is the inferred kind of attached hardware.
type Class string

// Known device classes.
const (
	ClassPhone   Class = "iPhone"
	ClassTablet  Class = "iPad"
	ClassPlayer  Class = "iPod"
	ClassUnknown Class = "unknown"
)

// VendorApple is the USB vendor id all compatible devices report.
const VendorApple = 0x05ac

// Key identifies a tracked device by its (vendor, product) pair. Device
// identity (UDID) is resolved asynchronously and may never arrive for a
// locked device, so presence tracking cannot key on it.
type Key struct {
	VendorID  uint16
	ProductID uint16
}

// Descriptor is the in-memory record of one attached device. It is created
// on detection and dropped on disconnect, never persisted.
type Descriptor struct {
	Key         Key
	Class       Class
	Name        string
	ConnectedAt time.Time
	UDID        string // empty until resolved, may stay empty
}

// EventKind distinguishes attach from detach.
type EventKind string

// Discovery event kinds.
const (
	Attached EventKind = "attached"
	Detached EventKind = "detached"
)

// Event is published by the discovery loop on logical attach/detach.
type Event struct {
	Kind   EventKind
	Device Descriptor
}

// Info is the authoritative answer from a device-info query.
type Info struct {
	Class Class  `json:"class"`
	Model string `json:"model"`
	Name  string `json:"name"`
	UDID  string `json:"udid"`
}

// RemoteFile is one entry of a device-side directory listing.
type RemoteFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}
