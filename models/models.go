package models

import (
	"strings"
	"time"
)

type Role int

const (
	RoleAdmin Role = iota
	RoleIssuer
	RoleVerifier
	RoleStudent
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleIssuer:
		return "issuer"
	case RoleVerifier:
		return "verifier"
	case RoleStudent:
		return "student"
	default:
		return "unknown"
	}
}

func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(s) {
	case "admin":
		return RoleAdmin, true
	case "issuer":
		return RoleIssuer, true
	case "verifier":
		return RoleVerifier, true
	case "student":
		return RoleStudent, true
	}
	return 0, false
}

const (
	PermIssue    = "canIssue"
	PermVerify   = "canVerify"
	PermTransfer = "canTransfer"
)

// rolePerms is the fixed role to permission mapping. Admin is handled
// separately in HasPermission and always passes.
var rolePerms = map[Role]map[string]bool{
	RoleIssuer:   {PermIssue: true, PermVerify: true, PermTransfer: true},
	RoleVerifier: {PermIssue: false, PermVerify: true, PermTransfer: false},
	RoleStudent:  {PermIssue: false, PermVerify: true, PermTransfer: false},
}

type Principal struct {
	// Address is the canonical lowercase 0x-prefixed 20-byte hex address.
	Address     string `gorm:"primaryKey"`
	Role        Role   `gorm:"index"`
	Nonce       string
	IsActive    bool `gorm:"index;default:true"`
	LastLoginAt *time.Time
	CreatedAt   time.Time
}

func (p *Principal) HasPermission(perm string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	perms, ok := rolePerms[p.Role]
	if !ok {
		return false
	}
	return perms[perm]
}

type DocumentStatus string

const (
	StatusDraft            DocumentStatus = "draft"
	StatusEncrypted        DocumentStatus = "encrypted"
	StatusStored           DocumentStatus = "stored"
	StatusBlockchainStored DocumentStatus = "blockchain_stored"
	StatusRevoked          DocumentStatus = "revoked"
)

var documentTypes = map[string]bool{
	"degree":      true,
	"certificate": true,
	"transcript":  true,
	"diploma":     true,
	"other":       true,
}

func ValidDocumentType(t string) bool {
	return documentTypes[t]
}

type Document struct {
	// Hash is the 0x-prefixed lowercase hex SHA-256 of the plaintext.
	Hash string `gorm:"primaryKey;column:document_hash"`

	// Cid points to the encrypted payload in the content store.
	Cid      string
	Provider string

	// WrappedKey is the per-document key sealed under the master key.
	// It never leaves the server; only the download path unwraps it.
	WrappedKey []byte `gorm:"column:wrapped_key" json:"-"`

	StudentName     string
	StudentID       string
	InstitutionName string
	DocumentType    string `gorm:"index"`
	IssueDate       string
	Description     string

	Filename string
	MimeType string
	Size     int64

	Owner   string `gorm:"index"`
	Issuer  string `gorm:"index"`
	Viewers string // comma-joined lowercase addresses, insertion order

	UploadedBy        string
	CreatedAt         time.Time
	VerificationCount int64
	LastVerifiedAt    *time.Time

	TxHash      *string
	BlockNumber *uint64
	GasUsed     *uint64

	Status   DocumentStatus `gorm:"index"`
	IsActive bool           `gorm:"index;default:true"`
}

// ViewerList splits the stored viewer set, preserving insertion order.
func (d *Document) ViewerList() []string {
	if d.Viewers == "" {
		return nil
	}
	return strings.Split(d.Viewers, ",")
}

// EffectiveViewers is the viewer set plus owner and issuer, which are
// always authorized even when not enumerated.
func (d *Document) EffectiveViewers() []string {
	out := []string{d.Owner}
	if d.Issuer != d.Owner {
		out = append(out, d.Issuer)
	}
	for _, v := range d.ViewerList() {
		if v != d.Owner && v != d.Issuer {
			out = append(out, v)
		}
	}
	return out
}

func (d *Document) HasViewer(addr string) bool {
	for _, v := range d.EffectiveViewers() {
		if v == addr {
			return true
		}
	}
	return false
}

func (d *Document) ChainConfirmed() bool {
	return d.TxHash != nil
}

type VerificationMethod string

const (
	MethodUpload VerificationMethod = "upload"
	MethodQr     VerificationMethod = "qr"
	MethodHash   VerificationMethod = "hash"
)

type VerificationResult string

const (
	ResultAuthentic VerificationResult = "authentic"
	ResultTampered  VerificationResult = "tampered"
	ResultNotFound  VerificationResult = "not_found"
	ResultRevoked   VerificationResult = "revoked"
)

type AccessAction string

const (
	AccessGrant      AccessAction = "grant"
	AccessRevoke     AccessAction = "revoke"
	AccessTransfer   AccessAction = "transfer"
	AccessDownload   AccessAction = "download"
	AccessDeactivate AccessAction = "deactivate"
	AccessAssignRole AccessAction = "assign_role"
)

// AccessLog records ACL mutations and plaintext downloads.
type AccessLog struct {
	ID           string `gorm:"primaryKey"`
	DocumentHash string `gorm:"index"`
	Actor        string
	Action       AccessAction
	Target       string
	ChainTxHash  *string
	CreatedAt    time.Time `gorm:"index"`
}

type VerificationLog struct {
	ID           string `gorm:"primaryKey"`
	DocumentHash string `gorm:"index;index:idx_vlog_hash_created"`
	// Verifier is a principal address, or the literal "anonymous".
	Verifier       string
	VerifierIP     string `gorm:"index"`
	Method         VerificationMethod
	Result         VerificationResult `gorm:"index"`
	ChainConfirmed *bool
	UserAgent      string
	CreatedAt      time.Time `gorm:"index;index:idx_vlog_hash_created,sort:asc"`
}
