package upload

import (
	"strconv"
	"time"
)

// Bundle aggregates uploads belonging to one peer-side download bundle,
// so progress can be reported per bundle rather than per file.
type Bundle struct {
	Token  string
	Target string // peer-supplied name hint
	Size   int64

	uploaded   int64
	speed      int64 // EWMA, bytes/s
	singleUser bool
	uploads    []*Upload
	emptySince time.Time
}

func newBundle(token, target string, size int64) *Bundle {
	return &Bundle{Token: token, Target: target, Size: size, singleUser: true}
}

// Uploaded returns aggregated payload progress.
func (b *Bundle) Uploaded() int64 { return b.uploaded }

// Speed returns the smoothed byte rate.
func (b *Bundle) Speed() int64 { return b.speed }

// SingleUser reports whether only one user has fetched from the bundle.
func (b *Bundle) SingleUser() bool { return b.singleUser }

func (b *Bundle) addUploaded(n int64) { b.uploaded += n }

func (b *Bundle) attach(u *Upload) {
	for _, existing := range b.uploads {
		if existing.conn.User.CID != u.conn.User.CID {
			b.singleUser = false
			break
		}
	}
	b.uploads = append(b.uploads, u)
	b.emptySince = time.Time{}
	u.bundle = b
}

func (b *Bundle) detach(u *Upload) {
	for i, existing := range b.uploads {
		if existing == u {
			b.uploads = append(b.uploads[:i], b.uploads[i+1:]...)
			break
		}
	}
	if len(b.uploads) == 0 {
		b.emptySince = time.Now()
	}
	u.bundle = nil
}

// tickSpeed folds the per-second progress into the EWMA.
func (b *Bundle) tickSpeed(delta int64) {
	const alpha = 0.3
	b.speed = int64(alpha*float64(delta) + (1-alpha)*float64(b.speed))
}

// UBD is the parsed ADC upload-bundle command. Exactly one of the
// action flags is set.
type UBD struct {
	Token      string // BU
	Name       string // NA
	Size       int64  // SI
	Downloaded int64  // DL
	Add        bool   // AD
	Change     bool   // CH
	Update     bool   // UD
	Finish     bool   // FI
	Remove     bool   // RM
}

// ParseUBD extracts a UBD from positional ADC parameters.
func ParseUBD(params []string) UBD {
	var cmd UBD
	for _, p := range params {
		if len(p) < 2 {
			continue
		}
		code, value := p[:2], p[2:]
		switch code {
		case "BU":
			cmd.Token = value
		case "NA":
			cmd.Name = value
		case "SI":
			cmd.Size, _ = strconv.ParseInt(value, 10, 64)
		case "DL":
			cmd.Downloaded, _ = strconv.ParseInt(value, 10, 64)
		case "AD":
			cmd.Add = true
		case "CH":
			cmd.Change = true
		case "UD":
			cmd.Update = true
		case "FI":
			cmd.Finish = true
		case "RM":
			cmd.Remove = true
		}
	}
	return cmd
}

// UBN is the parsed ADC bundle progress notification.
type UBN struct {
	Token   string  // BU
	Speed   int64   // SP, bytes/s
	Percent float64 // PE
}

// ParseUBN extracts a UBN from positional ADC parameters.
func ParseUBN(params []string) UBN {
	var cmd UBN
	for _, p := range params {
		if len(p) < 2 {
			continue
		}
		code, value := p[:2], p[2:]
		switch code {
		case "BU":
			cmd.Token = value
		case "SP":
			cmd.Speed, _ = strconv.ParseInt(value, 10, 64)
		case "PE":
			cmd.Percent, _ = strconv.ParseFloat(value, 64)
		}
	}
	return cmd
}
