package upload

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdcpp/airdcpp-go/internal/bytesize"
	"github.com/airdcpp/airdcpp-go/pkg/config"
	"github.com/airdcpp/airdcpp-go/pkg/hub"
	"github.com/airdcpp/airdcpp-go/pkg/share"
	"github.com/airdcpp/airdcpp-go/pkg/tth"
)

// fakeShare implements ShareSource over a fixed file table.
type fakeShare struct {
	files map[string]ResolvedFile // adc path → file
	temps []share.TempShare
	list  []byte
}

func (f *fakeShare) FindFile(adcPath string, _ share.ProfileToken) (ResolvedFile, error) {
	if rf, ok := f.files[adcPath]; ok {
		return rf, nil
	}
	return ResolvedFile{}, &share.Error{Code: share.ErrNotFound, Message: "file not available"}
}

func (f *fakeShare) FullList(share.ProfileToken, bool) ([]byte, uint64, error) {
	return f.list, 1, nil
}

func (f *fakeShare) PartialList(string, bool, share.ProfileToken) ([]byte, error) {
	return []byte(`<FileListing Version="1"></FileListing>`), nil
}

func (f *fakeShare) TTHList(string, bool, share.ProfileToken) ([]byte, error) {
	return []byte("AAAA\n"), nil
}

func (f *fakeShare) TempShareByTTH(root tth.Value, key string) (share.TempShare, bool) {
	for _, ts := range f.temps {
		if ts.TTH == root && (ts.Key == "" || ts.Key == key) {
			return ts, true
		}
	}
	return share.TempShare{}, false
}

// fakeTrees serves one stored tree.
type fakeTrees struct{ tree *tth.Tree }

func (f *fakeTrees) Tree(root tth.Value) (*tth.Tree, bool, error) {
	if f.tree != nil && f.tree.Root() == root {
		return f.tree, true, nil
	}
	return nil, false, nil
}

// fakeHub keeps every user online on one hub.
type fakeHub struct {
	hub.NullContext
	offline   map[string]bool
	connected []string
}

func (f *fakeHub) OnlineHubs(cid string) []hub.OnlineUser {
	if f.offline[cid] {
		return nil
	}
	return []hub.OnlineUser{{User: hub.User{CID: cid}, HubURL: "adc://hub.example:1511"}}
}

func (f *fakeHub) ConnectToMe(user hub.OnlineUser, _ string) {
	f.connected = append(f.connected, user.User.CID)
}

func testDispatcher(t *testing.T, cfg config.UploadConfig, sharedSize int64) (*Dispatcher, *fakeShare, string) {
	t.Helper()
	dir := t.TempDir()
	real := filepath.Join(dir, "big.bin")
	content := make([]byte, sharedSize)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(real, content, 0o644))

	if cfg.SlotsPerUser == 0 {
		cfg.SlotsPerUser = 3
	}
	if cfg.MinislotSize == 0 {
		cfg.MinislotSize = 512 * bytesize.KiB
	}

	shares := &fakeShare{
		files: map[string]ResolvedFile{
			"/shared/big.bin": {RealPath: real, Size: sharedSize, TTH: tth.Value{1}},
		},
		list: []byte("BZh91AY&SY fake list"),
	}
	d := NewDispatcher(cfg, &fakeHub{}, shares, &fakeTrees{}, nil)
	return d, shares, real
}

func TestPrepareFileServesSegment(t *testing.T) {
	d, _, _ := testDispatcher(t, config.UploadConfig{Slots: 2}, 2048)
	conn := d.Connect("c1", hub.User{CID: "USER1"}, "adc://hub")

	u, err := d.PrepareFile(conn, Request{Type: RequestFile, Path: "/shared/big.bin", Start: 100, Bytes: 200})
	require.NoError(t, err)

	start, end := u.Segment()
	assert.Equal(t, int64(100), start)
	assert.Equal(t, int64(300), end)
	assert.True(t, u.Chunked())
	assert.Equal(t, SlotSmall, conn.SlotType())

	data, err := io.ReadAll(u.Stream())
	require.NoError(t, err)
	require.Len(t, data, 200)
	assert.Equal(t, byte(100), data[0])
}

func TestPrepareFileToEndOfFile(t *testing.T) {
	d, _, _ := testDispatcher(t, config.UploadConfig{Slots: 1}, 1000)
	conn := d.Connect("c1", hub.User{CID: "USER1"}, "")

	u, err := d.PrepareFile(conn, Request{Type: RequestFile, Path: "/shared/big.bin", Start: 400, Bytes: -1})
	require.NoError(t, err)
	start, end := u.Segment()
	assert.Equal(t, int64(400), start)
	assert.Equal(t, int64(1000), end)
}

func TestPrepareFileRejectsBadRange(t *testing.T) {
	d, _, _ := testDispatcher(t, config.UploadConfig{Slots: 1}, 1000)
	conn := d.Connect("c1", hub.User{CID: "USER1"}, "")

	_, err := d.PrepareFile(conn, Request{Type: RequestFile, Path: "/shared/big.bin", Start: 900, Bytes: 200})
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrProtocol, ue.Kind)
}

func TestPrepareFileNotShared(t *testing.T) {
	d, _, _ := testDispatcher(t, config.UploadConfig{Slots: 1}, 1000)
	conn := d.Connect("c1", hub.User{CID: "USER1"}, "")

	_, err := d.PrepareFile(conn, Request{Type: RequestFile, Path: "/nope.bin", Start: 0, Bytes: -1})
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrNotAvailable, ue.Kind)
}

// Scenario: one slot taken, second user is maxed out and queued, but a
// full list request still gets a small slot.
func TestSlotPolicyMaxedOutAndSmallSlot(t *testing.T) {
	d, _, _ := testDispatcher(t, config.UploadConfig{Slots: 1}, 1024*1024)

	c1 := d.Connect("c1", hub.User{CID: "USER1"}, "")
	_, err := d.PrepareFile(c1, Request{Type: RequestFile, Path: "/shared/big.bin", Start: 0, Bytes: -1})
	require.NoError(t, err)
	assert.Equal(t, 0, d.FreeSlots())

	c2 := d.Connect("c2", hub.User{CID: "USER2"}, "")
	_, err = d.PrepareFile(c2, Request{Type: RequestFile, Path: "/shared/big.bin", Start: 0, Bytes: -1})
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrMaxedOut, ue.Kind)
	assert.Equal(t, 1, ue.QueuePos)
	assert.Equal(t, 1, d.QueuePosition("USER2"))

	// The same user asking for the full list is served immediately.
	u, err := d.PrepareFile(c2, Request{Type: RequestFile, Path: "files.xml.bz2", Start: 0, Bytes: -1})
	require.NoError(t, err)
	assert.Equal(t, SlotSmall, c2.SlotType())
	assert.NotNil(t, u.Stream())
}

// Scenario: three MCN connections from one user share one running slot.
func TestMCNAccounting(t *testing.T) {
	d, _, _ := testDispatcher(t, config.UploadConfig{Slots: 2, SlotsPerUser: 3}, 1024*1024)

	conns := make([]*Connection, 3)
	for i := range conns {
		conns[i] = d.Connect(string(rune('a'+i)), hub.User{CID: "USER1"}, "")
		_, err := d.PrepareFile(conns[i], Request{
			Type: RequestFile, Path: "/shared/big.bin", Start: 0, Bytes: -1, MCN: true,
		})
		require.NoError(t, err)
		assert.Equal(t, SlotMCN, conns[i].SlotType())
	}

	d.mu.Lock()
	assert.Equal(t, 1, d.running)
	assert.Equal(t, 3, d.mcnUploads["USER1"])
	d.mu.Unlock()

	// A fourth connection exceeds SlotsPerUser.
	c4 := d.Connect("d", hub.User{CID: "USER1"}, "")
	_, err := d.PrepareFile(c4, Request{Type: RequestFile, Path: "/shared/big.bin", Start: 0, Bytes: -1, MCN: true})
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrMaxedOut, ue.Kind)

	// Closing the first two decrements only the per-user count.
	d.Disconnect("a")
	d.Disconnect("b")
	d.mu.Lock()
	assert.Equal(t, 1, d.running)
	assert.Equal(t, 1, d.mcnUploads["USER1"])
	d.mu.Unlock()

	// The last close drops running.
	d.Disconnect("c")
	d.mu.Lock()
	assert.Equal(t, 0, d.running)
	assert.Empty(t, d.mcnUploads)
	d.mu.Unlock()
}

func TestMiniSlotEligibility(t *testing.T) {
	d, shares, real := testDispatcher(t, config.UploadConfig{Slots: 1, MinislotSize: 512 * bytesize.KiB}, 1024*1024)

	// Burn the only standard slot.
	c1 := d.Connect("c1", hub.User{CID: "USER1"}, "")
	_, err := d.PrepareFile(c1, Request{Type: RequestFile, Path: "/shared/big.bin", Start: 0, Bytes: -1})
	require.NoError(t, err)

	// A small auxiliary file still goes out on an extra slot. Size must
	// exceed the small-file bound but stay under the minislot bound.
	shares.files["/shared/cover.jpg"] = ResolvedFile{RealPath: real, Size: 200 * 1024, TTH: tth.Value{2}}
	c2 := d.Connect("c2", hub.User{CID: "USER2"}, "")
	_, err = d.PrepareFile(c2, Request{Type: RequestFile, Path: "/shared/cover.jpg", Start: 0, Bytes: 200 * 1024})
	require.NoError(t, err)
	assert.Equal(t, SlotExtra, c2.SlotType())

	// Operators bypass the slot shortage as well.
	shares.files["/shared/large2.bin"] = ResolvedFile{RealPath: real, Size: 1024 * 1024, TTH: tth.Value{3}}
	c3 := d.Connect("c3", hub.User{CID: "USER3", Operator: true}, "")
	_, err = d.PrepareFile(c3, Request{Type: RequestFile, Path: "/shared/large2.bin", Start: 0, Bytes: -1})
	require.NoError(t, err)
	assert.Equal(t, SlotExtra, c3.SlotType())
}

func TestDelayedUploadResume(t *testing.T) {
	d, _, _ := testDispatcher(t, config.UploadConfig{Slots: 1}, 128*1024)
	conn := d.Connect("c1", hub.User{CID: "USER1"}, "")

	u, err := d.PrepareFile(conn, Request{Type: RequestFile, Path: "/shared/big.bin", Start: 0, Bytes: 1024})
	require.NoError(t, err)
	_, end := u.Segment()

	d.FinishUpload("c1")
	assert.Nil(t, conn.Upload())
	// Slot is held through the grace period.
	assert.Equal(t, 0, d.FreeSlots())

	u2, err := d.PrepareFile(conn, Request{Type: RequestFile, Path: "/shared/big.bin", Start: end, Bytes: 1024})
	require.NoError(t, err)
	assert.True(t, u2.Resumed())
	assert.Equal(t, 0, d.FreeSlots())
}

func TestTempShareServing(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "temp.bin")
	require.NoError(t, os.WriteFile(real, []byte("temp content"), 0o644))

	root := tth.Value{9, 9}
	shares := &fakeShare{
		files: map[string]ResolvedFile{},
		temps: []share.TempShare{{TTH: root, Path: real, Size: 12, Key: "FRIEND"}},
	}
	d := NewDispatcher(config.UploadConfig{Slots: 1, SlotsPerUser: 1, MinislotSize: 1}, &fakeHub{}, shares, &fakeTrees{}, nil)

	// The keyed peer gets the file.
	friend := d.Connect("c1", hub.User{CID: "FRIEND"}, "")
	u, err := d.PrepareFile(friend, Request{Type: RequestFile, Path: tthPrefix + root.String(), Start: 0, Bytes: -1})
	require.NoError(t, err)
	data, err := io.ReadAll(u.Stream())
	require.NoError(t, err)
	assert.Equal(t, "temp content", string(data))

	// Anyone else is refused.
	stranger := d.Connect("c2", hub.User{CID: "STRANGER"}, "")
	_, err = d.PrepareFile(stranger, Request{Type: RequestFile, Path: tthPrefix + root.String(), Start: 0, Bytes: -1})
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrNotAvailable, ue.Kind)
}

func TestTreeRequest(t *testing.T) {
	tree := tth.NewTree(tth.MinBlockSize)
	tree.Write(make([]byte, tth.MinBlockSize*2))
	tree.Finish()

	shares := &fakeShare{files: map[string]ResolvedFile{}}
	d := NewDispatcher(config.UploadConfig{Slots: 1, SlotsPerUser: 1, MinislotSize: 1},
		&fakeHub{}, shares, &fakeTrees{tree: tree}, nil)
	conn := d.Connect("c1", hub.User{CID: "USER1"}, "")

	u, err := d.PrepareFile(conn, Request{Type: RequestTree, Path: tthPrefix + tree.Root().String(), Start: 0, Bytes: -1})
	require.NoError(t, err)
	data, err := io.ReadAll(u.Stream())
	require.NoError(t, err)
	assert.Len(t, data, len(tree.Leaves())*tth.Size)
}

func TestHandleCacheSharesHandles(t *testing.T) {
	c := newHandleCache()
	path := filepath.Join(t.TempDir(), "shared.bin")
	require.NoError(t, os.WriteFile(path, []byte("shared bytes"), 0o644))

	h1, err := c.Open(path)
	require.NoError(t, err)
	h2, err := c.Open(path)
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, c.openCount())

	h1.Release()
	assert.Equal(t, 1, c.openCount())
	h2.Release()
	assert.Equal(t, 0, c.openCount())
}

func TestBundleLifecycle(t *testing.T) {
	d, _, _ := testDispatcher(t, config.UploadConfig{Slots: 2}, 4096)
	conn := d.Connect("c1", hub.User{CID: "USER1"}, "")

	_, err := d.PrepareFile(conn, Request{
		Type: RequestFile, Path: "/shared/big.bin", Start: 0, Bytes: -1, BundleToken: "bundle1",
	})
	require.NoError(t, err)

	require.NoError(t, d.HandleUBD(conn, ParseUBD([]string{"BUbundle1", "NAMy.Album", "SI4096", "UD"})))
	bundles := d.Bundles()
	require.Len(t, bundles, 1)
	assert.Equal(t, "My.Album", bundles[0].Target)
	assert.Equal(t, int64(4096), bundles[0].Size)

	var events []Event
	d.Subscribe(func(ev Event) { events = append(events, ev) })
	require.NoError(t, d.HandleUBD(conn, ParseUBD([]string{"BUbundle1", "FI"})))

	require.Len(t, events, 1)
	bc, ok := events[0].(BundleComplete)
	require.True(t, ok)
	assert.Equal(t, "bundle1", bc.Token)
	assert.Empty(t, d.Bundles())
}

func TestNotifyQueuedUsers(t *testing.T) {
	hubs := &fakeHub{}
	dir := t.TempDir()
	real := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(real, make([]byte, 1024*1024), 0o644))

	shares := &fakeShare{files: map[string]ResolvedFile{
		"/f.bin": {RealPath: real, Size: 1024 * 1024, TTH: tth.Value{5}},
	}}
	d := NewDispatcher(config.UploadConfig{Slots: 1, SlotsPerUser: 1, MinislotSize: 1}, hubs, shares, &fakeTrees{}, nil)

	c1 := d.Connect("c1", hub.User{CID: "USER1"}, "")
	_, err := d.PrepareFile(c1, Request{Type: RequestFile, Path: "/f.bin", Start: 0, Bytes: -1})
	require.NoError(t, err)

	c2 := d.Connect("c2", hub.User{CID: "USER2"}, "adc://hub.example:1511")
	_, err = d.PrepareFile(c2, Request{Type: RequestFile, Path: "/f.bin", Start: 0, Bytes: -1})
	require.Error(t, err)

	// Free the slot: the waiting user gets connected.
	d.Disconnect("c1")
	deadline := time.Now().Add(time.Second)
	for len(hubs.connected) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Contains(t, hubs.connected, "USER2")
}

func TestUploadProgress(t *testing.T) {
	d, _, _ := testDispatcher(t, config.UploadConfig{Slots: 1}, 4096)
	conn := d.Connect("c1", hub.User{CID: "USER1"}, "")

	u, err := d.PrepareFile(conn, Request{Type: RequestFile, Path: "/shared/big.bin", Start: 0, Bytes: -1})
	require.NoError(t, err)

	u.AddPos(1000, 900)
	assert.Equal(t, int64(1000), u.BytesSent())

	d.SecondTick()
	assert.Equal(t, int64(1000), u.Speed())
}
