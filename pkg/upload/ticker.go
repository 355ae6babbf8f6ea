package upload

import (
	"time"

	"github.com/airdcpp/airdcpp-go/internal/logger"
)

// SecondTick ages delayed uploads, prunes empty bundles and publishes
// the per-second transfer snapshot. Call it once per second from the
// application timer.
func (d *Dispatcher) SecondTick() {
	now := time.Now()
	freed := false

	d.mu.Lock()
	// Expired delay entries release the slot they were holding.
	kept := d.delayUploads[:0]
	for _, du := range d.delayUploads {
		if now.Before(du.expires) {
			kept = append(kept, du)
			continue
		}
		if conn, ok := d.conns[du.connID]; ok && conn.upload == nil {
			d.releaseSlotLocked(conn)
			freed = true
		}
	}
	d.delayUploads = kept

	// Bundles with no uploads fall away after their grace.
	for token, b := range d.bundles {
		if len(b.uploads) == 0 && !b.emptySince.IsZero() && now.Sub(b.emptySince) > bundleGrace {
			delete(d.bundles, token)
		}
	}

	// Per-upload byte rates since the previous tick.
	uploads := make([]*Upload, 0, len(d.uploads))
	bundleDelta := make(map[*Bundle]int64)
	for _, u := range d.uploads {
		u.speed = u.bytesSent - u.lastSent
		u.lastSent = u.bytesSent
		uploads = append(uploads, u)
		if u.bundle != nil {
			bundleDelta[u.bundle] += u.speed
		}
	}
	bundles := make([]*Bundle, 0, len(d.bundles))
	for _, b := range d.bundles {
		b.tickSpeed(bundleDelta[b])
		bundles = append(bundles, b)
	}
	d.mu.Unlock()

	if freed {
		d.notifyQueuedUsers()
	}
	d.emit(Tick{Uploads: uploads, Bundles: bundles})
}

// MinuteTick clears expired reservations and notifications and applies
// the auto-kick policy.
func (d *Dispatcher) MinuteTick() {
	now := time.Now()

	d.mu.Lock()
	for cid, expiry := range d.reserved {
		if now.After(expiry) {
			delete(d.reserved, cid)
		}
	}
	for cid, tick := range d.notified {
		if now.Sub(tick) > notifiedExpiry {
			delete(d.notified, cid)
		}
	}

	var kicks []string
	if d.cfg.AutoKick {
		for _, conn := range d.conns {
			u := conn.upload
			if u == nil {
				continue
			}
			if len(d.hubs.OnlineHubs(conn.User.CID)) > 0 {
				u.pendingKick = false
				continue
			}
			if d.cfg.AutoKickNoFavs && conn.User.Favorite {
				continue
			}
			if u.pendingKick {
				kicks = append(kicks, conn.User.CID)
			} else {
				u.pendingKick = true
			}
		}
	}
	d.mu.Unlock()

	for _, cid := range kicks {
		logger.Info("kicking offline leecher", logger.KeyUser, cid)
		d.emit(KickUser{CID: cid})
	}
}

// HandleUBD runs the peer-initiated bundle state machine.
func (d *Dispatcher) HandleUBD(conn *Connection, cmd UBD) error {
	if cmd.Token == "" {
		return protocolError("bundle command without token")
	}

	var complete *Bundle

	d.mu.Lock()
	b, exists := d.bundles[cmd.Token]
	switch {
	case cmd.Add:
		if !exists {
			b = newBundle(cmd.Token, cmd.Name, cmd.Size)
			d.bundles[cmd.Token] = b
		}
		if conn != nil && conn.upload != nil && conn.upload.bundle == nil {
			b.attach(conn.upload)
		}
		if conn != nil {
			conn.lastBundle = cmd.Token
		}

	case cmd.Change, cmd.Update:
		if !exists {
			d.mu.Unlock()
			return protocolError("unknown bundle token")
		}
		if cmd.Size > 0 {
			b.Size = cmd.Size
		}
		if cmd.Name != "" {
			b.Target = cmd.Name
		}
		if cmd.Downloaded > 0 {
			b.uploaded = cmd.Downloaded
		}

	case cmd.Finish:
		if exists {
			complete = b
			delete(d.bundles, cmd.Token)
		}
		if conn != nil && conn.lastBundle == cmd.Token {
			conn.lastBundle = ""
		}

	case cmd.Remove:
		if exists {
			for _, u := range append([]*Upload(nil), b.uploads...) {
				b.detach(u)
			}
			delete(d.bundles, cmd.Token)
		}
		if conn != nil && conn.lastBundle == cmd.Token {
			conn.lastBundle = ""
		}

	default:
		d.mu.Unlock()
		return protocolError("bundle command without action")
	}
	d.mu.Unlock()

	if complete != nil {
		d.emit(BundleComplete{Token: complete.Token, Name: complete.Target})
	}
	return nil
}

// HandleUBN records peer-reported bundle progress.
func (d *Dispatcher) HandleUBN(cmd UBN) error {
	if cmd.Token == "" {
		return protocolError("bundle notification without token")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bundles[cmd.Token]
	if !ok {
		return protocolError("unknown bundle token")
	}
	if cmd.Speed > 0 {
		b.speed = cmd.Speed
	}
	if cmd.Percent > 0 && b.Size > 0 {
		b.uploaded = int64(cmd.Percent / 100 * float64(b.Size))
	}
	return nil
}

// ActiveUploads snapshots the live upload set.
func (d *Dispatcher) ActiveUploads() []*Upload {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Upload, 0, len(d.uploads))
	for _, u := range d.uploads {
		out = append(out, u)
	}
	return out
}

// Bundles snapshots the live bundle set.
func (d *Dispatcher) Bundles() []*Bundle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Bundle, 0, len(d.bundles))
	for _, b := range d.bundles {
		out = append(out, b)
	}
	return out
}
