package upload

import (
	"time"

	"github.com/airdcpp/airdcpp-go/internal/logger"
)

// partialSlotCap bounds concurrent partial-sharing uploads.
const partialSlotCap = 3

// grantSlotLocked picks the slot class for a request, or returns
// SlotNone with the user's queue position. Caller holds d.mu.
func (d *Dispatcher) grantSlotLocked(conn *Connection, req Request, size int64, fullList, mini, partial bool) (SlotType, int) {
	cid := conn.User.CID

	if (fullList || size <= smallFileSize) && d.small < smallSlotCap {
		return SlotSmall, 0
	}

	if partial {
		if d.partial < partialSlotCap {
			return SlotPartial, 0
		}
		return SlotNone, d.queueUserLocked(conn, req.Path)
	}

	hasReserved := d.reservedForLocked(cid)
	free := d.freeSlotsLocked() > 0

	if req.MCN {
		if cur := d.mcnUploads[cid]; cur > 0 {
			// Subsequent MCN connections only consume per-user budget.
			if cur < d.cfg.SlotsPerUser {
				return SlotMCN, 0
			}
			return SlotNone, d.queueUserLocked(conn, req.Path)
		}
		if hasReserved || conn.User.Favorite || free || d.autoGrantLocked() {
			return SlotMCN, 0
		}
	} else {
		if hasReserved || free {
			return SlotStandard, 0
		}
		if d.autoGrantLocked() {
			return SlotStandard, 0
		}
	}

	if conn.User.Operator || mini {
		return SlotExtra, 0
	}

	return SlotNone, d.queueUserLocked(conn, req.Path)
}

func (d *Dispatcher) reservedForLocked(cid string) bool {
	expiry, ok := d.reserved[cid]
	return ok && time.Now().Before(expiry)
}

// autoGrantLocked applies the bandwidth-based extra-slot rule: at most
// one grant every 30 seconds, only while the total upload rate is below
// the configured bound, never past Slots()+AutoSlots running.
func (d *Dispatcher) autoGrantLocked() bool {
	if d.cfg.AutoSlots <= 0 {
		return false
	}
	if d.running >= d.Slots()+d.cfg.AutoSlots {
		return false
	}
	if d.runningSpeedLocked() >= int64(d.cfg.AutoSlotSpeed)*1024 {
		return false
	}
	if time.Since(d.lastAutoGrant) < autoGrantInterval {
		return false
	}
	d.lastAutoGrant = time.Now()
	return true
}

// applySlotLocked commits a slot grant to the accounting. Resumed
// uploads and connections that already hold the slot are not counted
// again.
func (d *Dispatcher) applySlotLocked(conn *Connection, slot SlotType, resumed bool) {
	if resumed || conn.slotType != SlotNone {
		conn.slotType = slot
		return
	}
	conn.slotType = slot
	switch slot {
	case SlotStandard:
		d.running++
	case SlotMCN:
		if d.mcnUploads[conn.User.CID] == 0 {
			d.running++
		}
		d.mcnUploads[conn.User.CID]++
	case SlotExtra:
		d.extra++
	case SlotPartial:
		d.partial++
	case SlotSmall:
		d.small++
	}
}

// releaseSlotLocked returns the connection's slot to the pool.
func (d *Dispatcher) releaseSlotLocked(conn *Connection) {
	switch conn.slotType {
	case SlotStandard:
		d.running--
	case SlotMCN:
		cid := conn.User.CID
		d.mcnUploads[cid]--
		if d.mcnUploads[cid] <= 0 {
			delete(d.mcnUploads, cid)
			d.running--
		}
	case SlotExtra:
		d.extra--
	case SlotPartial:
		d.partial--
	case SlotSmall:
		d.small--
	}
	conn.slotType = SlotNone
}

// attachLocked registers a prepared upload with the live set and,
// when the peer supplied a token, with its bundle.
func (d *Dispatcher) attachLocked(conn *Connection, u *Upload, bundleToken string) {
	d.uploads[u.Token] = u
	conn.upload = u
	if bundleToken == "" {
		return
	}
	b, ok := d.bundles[bundleToken]
	if !ok {
		b = newBundle(bundleToken, "", 0)
		d.bundles[bundleToken] = b
	}
	b.attach(u)
	conn.lastBundle = bundleToken
}

func (d *Dispatcher) removeUploadLocked(u *Upload) {
	delete(d.uploads, u.Token)
	if u.bundle != nil {
		u.bundle.detach(u)
	}
	if u.conn != nil && u.conn.upload == u {
		u.conn.upload = nil
	}
}

// takeDelayedLocked consumes a matching delayed upload so the request
// continues on the slot it already holds.
func (d *Dispatcher) takeDelayedLocked(connID, adcPath string, start int64) (SlotType, bool) {
	for i, du := range d.delayUploads {
		if du.connID == connID && du.adcPath == adcPath && du.nextPos == start {
			d.delayUploads = append(d.delayUploads[:i], d.delayUploads[i+1:]...)
			return du.slotType, true
		}
	}
	return SlotNone, false
}

// FinishUpload completes the active upload of a connection. The slot is
// kept through a short delay so the peer can continue the same file.
func (d *Dispatcher) FinishUpload(connID string) {
	d.mu.Lock()
	conn, ok := d.conns[connID]
	if !ok || conn.upload == nil {
		d.mu.Unlock()
		return
	}
	u := conn.upload
	d.removeUploadLocked(u)
	d.delayUploads = append(d.delayUploads, &delayedUpload{
		connID:   connID,
		adcPath:  u.adcPath,
		nextPos:  u.segEnd,
		slotType: conn.slotType,
		expires:  time.Now().Add(delayGrace),
	})
	d.mu.Unlock()

	u.stream.Close()
	logger.Debug("upload finished",
		logger.KeyUser, conn.User.CID,
		logger.KeyVirtual, u.adcPath,
		logger.KeySize, u.bytesSent)
	d.emit(UploadCompleted{Upload: u})
}

// queueUserLocked records a user denied a slot and returns their
// 1-based queue position.
func (d *Dispatcher) queueUserLocked(conn *Connection, adcPath string) int {
	for i, wu := range d.waiting {
		if wu.user.CID == conn.User.CID {
			wu.files[adcPath] = struct{}{}
			return i + 1
		}
	}
	d.waiting = append(d.waiting, &waitingUser{
		user:    conn.User,
		hubURL:  conn.HubURL,
		files:   map[string]struct{}{adcPath: {}},
		addedAt: time.Now(),
	})
	return len(d.waiting)
}

// QueuePosition returns the user's position, or 0 if not queued.
func (d *Dispatcher) QueuePosition(cid string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, wu := range d.waiting {
		if wu.user.CID == cid {
			return i + 1
		}
	}
	return 0
}

// notifyQueuedUsers pops waiting users while free slots exceed the
// outstanding notifications, and asks the hub layer to connect them.
func (d *Dispatcher) notifyQueuedUsers() {
	d.mu.Lock()
	budget := d.freeSlotsLocked() - len(d.notified)
	var notify []*waitingUser
	kept := d.waiting[:0]
	for _, wu := range d.waiting {
		if budget <= 0 {
			kept = append(kept, wu)
			continue
		}
		if len(d.hubs.OnlineHubs(wu.user.CID)) == 0 {
			// Offline users fall out of the queue.
			continue
		}
		d.notified[wu.user.CID] = time.Now()
		notify = append(notify, wu)
		budget--
	}
	d.waiting = kept
	d.mu.Unlock()

	for _, wu := range notify {
		for _, online := range d.hubs.OnlineHubs(wu.user.CID) {
			if wu.hubURL == "" || online.HubURL == wu.hubURL {
				d.hubs.ConnectToMe(online, "")
				break
			}
		}
	}
}
