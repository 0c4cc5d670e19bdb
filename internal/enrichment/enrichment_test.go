package enrichment

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foxhound-dns/resolver/internal/logging"
)

type fakeArpReader struct {
	table map[string]string
	err   error
}

func (f *fakeArpReader) ReadARPTable(ctx context.Context) (map[string]string, error) {
	return f.table, f.err
}

type fakeHostnameResolver struct {
	hostnames map[string]string
}

func (f *fakeHostnameResolver) ResolveHostname(ctx context.Context, ip net.IP) (string, bool, error) {
	name, ok := f.hostnames[ip.String()]
	return name, ok, nil
}

func TestSyncARPCachePopulatesMACAddresses(t *testing.T) {
	arp := &fakeArpReader{table: map[string]string{"192.168.1.10": "aa:bb:cc:dd:ee:ff"}}
	store := NewStore(arp, nil, logging.NewDefault())

	n, err := store.SyncARPCache(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	info, ok := store.Get("192.168.1.10")
	require.True(t, ok)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", info.MAC)
}

func TestSyncARPCacheNoopsWithoutReader(t *testing.T) {
	store := NewStore(nil, nil, logging.NewDefault())
	n, err := store.SyncARPCache(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSyncHostnamesResolvesOnlyMissingEntries(t *testing.T) {
	arp := &fakeArpReader{table: map[string]string{
		"10.0.0.1": "aa:aa:aa:aa:aa:aa",
		"10.0.0.2": "bb:bb:bb:bb:bb:bb",
	}}
	hostnames := &fakeHostnameResolver{hostnames: map[string]string{"10.0.0.1": "laptop.lan"}}
	store := NewStore(arp, hostnames, logging.NewDefault())

	_, err := store.SyncARPCache(context.Background())
	require.NoError(t, err)

	n, err := store.SyncHostnames(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	info, ok := store.Get("10.0.0.1")
	require.True(t, ok)
	require.Equal(t, "laptop.lan", info.Hostname)

	other, ok := store.Get("10.0.0.2")
	require.True(t, ok)
	require.Empty(t, other.Hostname)
}

func TestListReturnsAllKnownClients(t *testing.T) {
	arp := &fakeArpReader{table: map[string]string{"10.0.0.1": "aa:aa:aa:aa:aa:aa", "10.0.0.2": "bb:bb:bb:bb:bb:bb"}}
	store := NewStore(arp, nil, logging.NewDefault())
	_, err := store.SyncARPCache(context.Background())
	require.NoError(t, err)
	require.Len(t, store.List(), 2)
}

func TestProcNetArpReaderParsesFixedWidthTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arp")
	contents := "IP address       HW type     Flags       HW address            Mask     Device\n" +
		"192.168.1.1      0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0\n" +
		"192.168.1.2      0x1         0x0         00:00:00:00:00:00     *        eth0\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	reader := NewProcNetArpReader(path)
	table, err := reader.ReadARPTable(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"192.168.1.1": "aa:bb:cc:dd:ee:ff"}, table)
}
