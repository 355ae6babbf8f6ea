package logger

// Standard field keys. Use these consistently so that refresh, hashing,
// search and upload records can be queried together.
const (
	KeyPath     = "path"      // real filesystem path
	KeyVirtual  = "virtual"   // ADC virtual path
	KeyRoot     = "root"      // share root path
	KeyProfile  = "profile"   // share profile token
	KeyTTH      = "tth"       // base32 tree root
	KeySize     = "size"      // byte count
	KeyHasher   = "hasher_id" // hasher worker id
	KeyUser     = "user"      // peer CID
	KeyToken    = "token"     // bundle or request token
	KeySlotType = "slot_type" // granted slot class
	KeyDuration = "duration"  // elapsed time
	KeyError    = "error"     // error detail
)
