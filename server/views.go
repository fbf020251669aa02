package server

import (
	"time"

	"github.com/vellumd/vellum/models"
)

// documentView is the caller-facing projection of a document record.
// The wrapped key never appears here.
type documentView struct {
	Hash            string     `json:"hash"`
	Cid             string     `json:"cid"`
	StudentName     string     `json:"studentName"`
	StudentID       string     `json:"studentId"`
	InstitutionName string     `json:"institutionName"`
	DocumentType    string     `json:"documentType"`
	IssueDate       string     `json:"issueDate"`
	Description     string     `json:"description,omitempty"`
	Filename        string     `json:"filename"`
	MimeType        string     `json:"mimeType"`
	Size            int64      `json:"size"`
	Owner           string     `json:"owner"`
	Issuer          string     `json:"issuer"`
	Viewers         []string   `json:"viewers"`
	Status          string     `json:"status"`
	IsActive        bool       `json:"isActive"`
	TxHash          *string    `json:"txHash"`
	BlockNumber     *uint64    `json:"blockNumber"`
	GasUsed         *uint64    `json:"gasUsed"`
	CreatedAt       time.Time  `json:"createdAt"`
	VerifiedCount   int64      `json:"verificationCount"`
	LastVerifiedAt  *time.Time `json:"lastVerifiedAt"`
}

func newDocumentView(doc *models.Document) *documentView {
	return &documentView{
		Hash:            doc.Hash,
		Cid:             doc.Cid,
		StudentName:     doc.StudentName,
		StudentID:       doc.StudentID,
		InstitutionName: doc.InstitutionName,
		DocumentType:    doc.DocumentType,
		IssueDate:       doc.IssueDate,
		Description:     doc.Description,
		Filename:        doc.Filename,
		MimeType:        doc.MimeType,
		Size:            doc.Size,
		Owner:           doc.Owner,
		Issuer:          doc.Issuer,
		Viewers:         doc.ViewerList(),
		Status:          string(doc.Status),
		IsActive:        doc.IsActive,
		TxHash:          doc.TxHash,
		BlockNumber:     doc.BlockNumber,
		GasUsed:         doc.GasUsed,
		CreatedAt:       doc.CreatedAt,
		VerifiedCount:   doc.VerificationCount,
		LastVerifiedAt:  doc.LastVerifiedAt,
	}
}
