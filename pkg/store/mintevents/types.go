package mintevents

import "errors"

// ErrNotFound is returned when no mint event exists for a task id.
var ErrNotFound = errors.New("mint event not found")

// MintEvent links a generative task to the token whose metadata it will update.
type MintEvent struct {
	TaskID  string `json:"taskId" bson:"taskId"`
	TokenID int64  `json:"tokenId" bson:"tokenId"`

	// Ack is monotonic: once true the engine never selects the event again.
	Ack bool `json:"ack" bson:"ack"`

	// EdenSuccess and TxSuccess are tri-state; nil means the outcome was never recorded.
	EdenSuccess *bool `json:"edenSuccess,omitempty" bson:"edenSuccess,omitempty"`
	TxSuccess   *bool `json:"txSuccess,omitempty" bson:"txSuccess,omitempty"`

	ImageURI     string `json:"imageUri,omitempty" bson:"imageUri,omitempty"`
	IPFSURI      string `json:"ipfsUri,omitempty" bson:"ipfsUri,omitempty"`
	IPFSImageURI string `json:"ipfsImageUri,omitempty" bson:"ipfsImageUri,omitempty"`

	MetadataURI     string `json:"metadataUri,omitempty" bson:"metadataUri,omitempty"`
	TxHash          string `json:"txHash,omitempty" bson:"txHash,omitempty"`
	TxFailureReason string `json:"txFailureReason,omitempty" bson:"txFailureReason,omitempty"`
	TxAttempts      int    `json:"txAttempts,omitempty" bson:"txAttempts,omitempty"`
}

// Patch is the only shape the engine writes. Nil fields are left untouched.
type Patch struct {
	TokenID         *int64
	Ack             *bool
	EdenSuccess     *bool
	ImageURI        *string
	IPFSURI         *string
	IPFSImageURI    *string
	MetadataURI     *string
	TxSuccess       *bool
	TxHash          *string
	TxFailureReason *string
	TxAttempts      *int
}

// Apply merges p into ev. Ack is never reset from true to false.
func (p Patch) Apply(ev *MintEvent) {
	if p.TokenID != nil {
		ev.TokenID = *p.TokenID
	}
	if p.Ack != nil && *p.Ack {
		ev.Ack = true
	}
	if p.EdenSuccess != nil {
		ev.EdenSuccess = Bool(*p.EdenSuccess)
	}
	if p.ImageURI != nil {
		ev.ImageURI = *p.ImageURI
	}
	if p.IPFSURI != nil {
		ev.IPFSURI = *p.IPFSURI
	}
	if p.IPFSImageURI != nil {
		ev.IPFSImageURI = *p.IPFSImageURI
	}
	if p.MetadataURI != nil {
		ev.MetadataURI = *p.MetadataURI
	}
	if p.TxSuccess != nil {
		ev.TxSuccess = Bool(*p.TxSuccess)
	}
	if p.TxHash != nil {
		ev.TxHash = *p.TxHash
	}
	if p.TxFailureReason != nil {
		ev.TxFailureReason = *p.TxFailureReason
	}
	if p.TxAttempts != nil {
		ev.TxAttempts = *p.TxAttempts
	}
}

// IsZero reports whether the patch sets no field.
func (p Patch) IsZero() bool {
	return p == Patch{}
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }
