package device

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/redshiftplayer/redshift-sync/logging"
)

// Resolver turns a detected (vendor, product) key into a class and display
// name. Two strategies exist: the authoritative device query, and the
// static product-id table used when the query fails (locked or untrusted
// device).
type Resolver interface {
	Resolve(ctx context.Context, key Key) (Class, string, error)
}

// productEntry is one row of the static product-id table.
type productEntry struct {
	product uint16
	class   Class
	name    string
}

// productTable maps product ids to classes. Several ids were reused across
// hardware generations, so the same id appears more than once; the last
// entry wins, matching how the table has always behaved. Which mapping is
// actually correct for those ids is an open product question, not something
// to quietly fix here.
var productTable = []productEntry{
	{0x1290, ClassPhone, "iPhone"},
	{0x1292, ClassPhone, "iPhone 3G"},
	{0x1294, ClassPhone, "iPhone 3GS"},
	{0x1297, ClassPhone, "iPhone 4"},
	{0x129a, ClassTablet, "iPad"},
	{0x129c, ClassTablet, "iPad 2"},
	{0x129f, ClassTablet, "iPad 2"},
	{0x12a0, ClassPhone, "iPhone 4S"},
	{0x12a2, ClassTablet, "iPad 2"},
	{0x12a3, ClassTablet, "iPad 3"},
	{0x12a4, ClassTablet, "iPad 3"},
	{0x12a6, ClassTablet, "iPad 3"},
	{0x12a8, ClassPhone, "iPhone 5 or later"},
	{0x12a9, ClassTablet, "iPad 2"},
	{0x12aa, ClassPlayer, "iPod touch"},
	{0x12ab, ClassTablet, "iPad 4 or later"},
	// Reused ids: both mappings observed in the wild.
	{0x12a8, ClassTablet, "iPad (USB-C)"},
	{0x12ab, ClassPhone, "iPhone (USB-C)"},
}

// TableResolver classifies by the static product-id table alone.
type TableResolver struct {
	byProduct map[uint16]productEntry
}

// NewTableResolver builds the lookup map. Duplicate product ids collapse
// last-writer-wins.
func NewTableResolver() *TableResolver {
	m := make(map[uint16]productEntry, len(productTable))
	for _, e := range productTable {
		m[e.product] = e
	}
	return &TableResolver{byProduct: m}
}

// Resolve implements Resolver. Unknown products resolve to ClassUnknown
// rather than an error, so discovery still announces them.
func (r *TableResolver) Resolve(_ context.Context, key Key) (Class, string, error) {
	if key.VendorID != VendorApple {
		return ClassUnknown, "", nil
	}
	if e, ok := r.byProduct[key.ProductID]; ok {
		return e.class, e.name, nil
	}
	return ClassUnknown, "Apple device", nil
}

// QueryResolver asks the device itself, falling back to the static table
// when the query fails. Query results are cached briefly so every poll tick
// does not re-exec the helper.
type QueryResolver struct {
	transport Transport
	fallback  Resolver
	cache     *ttlcache.Cache[Key, Info]
}

// NewQueryResolver wires the authoritative resolver with its fallback.
func NewQueryResolver(transport Transport, fallback Resolver) *QueryResolver {
	cache := ttlcache.New(
		ttlcache.WithTTL[Key, Info](30*time.Second),
		ttlcache.WithDisableTouchOnHit[Key, Info](),
	)
	go cache.Start()
	return &QueryResolver{transport: transport, fallback: fallback, cache: cache}
}

// Resolve implements Resolver.
func (r *QueryResolver) Resolve(ctx context.Context, key Key) (Class, string, error) {
	if key.VendorID != VendorApple {
		return ClassUnknown, "", nil
	}
	if item := r.cache.Get(key); item != nil {
		info := item.Value()
		return info.Class, info.Name, nil
	}

	info, err := r.transport.QueryDeviceInfo(ctx)
	if err != nil {
		logging.Sub("classify").Debug("device query failed, using table", "key", key, "err", err)
		return r.fallback.Resolve(ctx, key)
	}
	r.cache.Set(key, info, ttlcache.DefaultTTL)
	return info.Class, info.Name, nil
}

// Stop releases the TTL cache's janitor goroutine.
func (r *QueryResolver) Stop() {
	r.cache.Stop()
}
